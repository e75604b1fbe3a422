package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	markFileName = ".reference"
	lockFileName = ".reference.lock"
	lockRetry    = 50 * time.Millisecond
)

// Allocator reserves reference numbers under a detector work root.
type Allocator struct {
	root     string
	markPath string
	mu       sync.Mutex
	lock     *flock.Flock
}

// NewAllocator returns an allocator for the pyavi directory root.
func NewAllocator(root string) *Allocator {
	return &Allocator{
		root:     root,
		markPath: filepath.Join(root, markFileName),
		lock:     flock.New(filepath.Join(root, lockFileName)),
	}
}

// Reserve claims count consecutive reference numbers and returns the first.
func (a *Allocator) Reserve(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		count = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return 0, fmt.Errorf("create work root: %w", err)
	}
	locked, err := a.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return 0, fmt.Errorf("lock work root: %w", err)
	}
	if !locked {
		return 0, errors.New("lock work root: not acquired")
	}
	defer func() { _ = a.lock.Unlock() }()

	highest, err := HighestReference(a.root)
	if err != nil {
		return 0, err
	}
	if mark := a.readMark(); mark > highest {
		highest = mark
	}
	first := highest + 1
	if err := a.writeMark(first + count - 1); err != nil {
		return 0, err
	}
	return first, nil
}

// Peek returns the reference the next reservation would start at.
func (a *Allocator) Peek() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	highest, err := HighestReference(a.root)
	if err != nil {
		return 0, err
	}
	if mark := a.readMark(); mark > highest {
		highest = mark
	}
	return highest + 1, nil
}

func (a *Allocator) readMark() int {
	data, err := os.ReadFile(a.markPath)
	if err != nil {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func (a *Allocator) writeMark(value int) error {
	tmp := a.markPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(value)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write reference mark: %w", err)
	}
	if err := os.Rename(tmp, a.markPath); err != nil {
		return fmt.Errorf("commit reference mark: %w", err)
	}
	return nil
}

// HighestReference returns the largest numeric directory name in root, or 0
// when there is none. A missing root counts as empty.
func HighestReference(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan work root: %w", err)
	}
	highest := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		value, err := strconv.Atoi(entry.Name())
		if err != nil || value < 0 {
			continue
		}
		if value > highest {
			highest = value
		}
	}
	return highest, nil
}
