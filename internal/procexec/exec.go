package procexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	tailLines = 20
	waitDelay = 5 * time.Second
)

// Command describes one external process invocation.
type Command struct {
	Binary string
	Args   []string
	// Dir is the working directory; empty inherits the caller's.
	Dir string
}

// String renders the command for logs.
func (c Command) String() string {
	parts := append([]string{c.Binary}, c.Args...)
	return strings.Join(parts, " ")
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, cmd Command, onLine func(string)) error
}

// ExitError reports a command that ran but exited unsuccessfully.
type ExitError struct {
	Command  string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if len(e.Tail) > 0 {
		msg += ": " + strings.Join(e.Tail, " | ")
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// TimeoutError reports a command killed because its deadline passed.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Timeout)
}

// IsTimeout reports whether err came from a command deadline.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded)
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Runner applies a per-command timeout around an Executor.
type Runner struct {
	exec    Executor
	timeout time.Duration
}

// NewRunner constructs a Runner. A non-positive timeout disables the deadline.
func NewRunner(timeout time.Duration, opts ...Option) *Runner {
	r := &Runner{exec: ProcessExecutor{}, timeout: timeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the configured per-command deadline.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes cmd and waits for it to exit.
func (r *Runner) Run(ctx context.Context, cmd Command, onLine func(string)) error {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	err := r.exec.Run(runCtx, cmd, onLine)
	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{Command: cmd.Binary, Timeout: r.timeout}
	}
	return err
}

// ProcessExecutor runs commands as real child processes.
type ProcessExecutor struct{}

// Run starts the command in a new process group, streams stdout and stderr
// line by line to onLine, and kills the whole group when ctx ends.
func (ProcessExecutor) Run(ctx context.Context, command Command, onLine func(string)) error {
	if strings.TrimSpace(command.Binary) == "" {
		return errors.New("command binary required")
	}
	cmd := exec.CommandContext(ctx, command.Binary, command.Args...) //nolint:gosec
	cmd.Dir = command.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", command.Binary, err)
	}

	tail := newTailBuffer(tailLines)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		scanErr error
		once    sync.Once
	)
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			tail.add(line)
			if onLine != nil {
				onLine(line)
			}
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			once.Do(func() { scanErr = err })
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", command.Binary, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{
				Command:  command.Binary,
				ExitCode: exitErr.ExitCode(),
				Tail:     tail.lines(),
				Err:      waitErr,
			}
		}
		return fmt.Errorf("wait %s: %w", command.Binary, waitErr)
	}
	if scanErr != nil {
		return fmt.Errorf("scan %s output: %w", command.Binary, scanErr)
	}
	return nil
}

type tailBuffer struct {
	max   int
	items []string
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(t.items) == t.max {
		copy(t.items, t.items[1:])
		t.items = t.items[:t.max-1]
	}
	t.items = append(t.items, line)
}

func (t *tailBuffer) lines() []string {
	return append([]string(nil), t.items...)
}
