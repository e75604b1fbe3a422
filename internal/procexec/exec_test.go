package procexec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"avsync/internal/procexec"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestProcessExecutorStreamsBothStreams(t *testing.T) {
	script := writeScript(t, "echo out-line\necho err-line 1>&2\n")
	var lines []string
	err := procexec.ProcessExecutor{}.Run(context.Background(), procexec.Command{Binary: script}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	joined := strings.Join(lines, ",")
	if !strings.Contains(joined, "out-line") || !strings.Contains(joined, "err-line") {
		t.Fatalf("expected both streams, got %v", lines)
	}
}

func TestProcessExecutorUsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, "pwd\n")
	var got string
	err := procexec.ProcessExecutor{}.Run(context.Background(), procexec.Command{Binary: script, Dir: dir}, func(line string) {
		got = line
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if got != dir && got != resolved {
		t.Fatalf("expected cwd %q, got %q", dir, got)
	}
}

func TestProcessExecutorReportsExitCodeAndTail(t *testing.T) {
	script := writeScript(t, "echo first\necho boom 1>&2\nexit 3\n")
	err := procexec.ProcessExecutor{}.Run(context.Background(), procexec.Command{Binary: script}, nil)
	var exitErr *procexec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", exitErr.ExitCode)
	}
	if !strings.Contains(exitErr.Error(), "boom") {
		t.Fatalf("expected tail in message, got %q", exitErr.Error())
	}
}

func TestRunnerTimeoutKillsProcessGroup(t *testing.T) {
	script := writeScript(t, "sleep 30 &\nsleep 30\n")
	runner := procexec.NewRunner(200 * time.Millisecond)
	start := time.Now()
	err := runner.Run(context.Background(), procexec.Command{Binary: script}, nil)
	if !procexec.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("expected prompt kill, took %s", elapsed)
	}
}

func TestRunnerPassesThroughExecutorErrors(t *testing.T) {
	want := errors.New("boom")
	runner := procexec.NewRunner(time.Minute, procexec.WithExecutor(executorFunc(func(context.Context, procexec.Command, func(string)) error {
		return want
	})))
	if err := runner.Run(context.Background(), procexec.Command{Binary: "tool"}, nil); !errors.Is(err, want) {
		t.Fatalf("expected executor error, got %v", err)
	}
}

func TestCommandString(t *testing.T) {
	cmd := procexec.Command{Binary: "ffmpeg", Args: []string{"-y", "-i", "in.avi"}}
	if cmd.String() != "ffmpeg -y -i in.avi" {
		t.Fatalf("unexpected rendering %q", cmd.String())
	}
}

type executorFunc func(context.Context, procexec.Command, func(string)) error

func (f executorFunc) Run(ctx context.Context, cmd procexec.Command, onLine func(string)) error {
	return f(ctx, cmd, onLine)
}
