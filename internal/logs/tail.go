package logs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	tailChunk    = 32 * 1024
	pollInterval = 200 * time.Millisecond
)

// TailOptions selects which lines Tail returns. A negative Offset returns the
// last Limit lines; otherwise lines after Offset are returned. With Follow set
// and nothing new, Tail polls for up to Wait.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries complete lines and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log file at path. A missing file yields no lines.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	if opts.Offset < 0 {
		lines, size, err := lastLines(path, opts.Limit)
		if err != nil || len(lines) > 0 || !opts.Follow {
			return TailResult{Lines: lines, Offset: size}, err
		}
		opts.Offset = size
	}

	deadline := time.Now().Add(max(opts.Wait, 0))
	offset := opts.Offset
	for {
		lines, next, err := linesFrom(path, offset)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		offset = next
		if len(lines) > 0 || !opts.Follow || !time.Now().Before(deadline) {
			return TailResult{Lines: lines, Offset: offset}, nil
		}
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func open(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	return file, info.Size(), nil
}

// lastLines returns up to limit trailing complete lines and the file size.
// A non-positive limit returns no lines.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, size, err := open(path)
	if file == nil || err != nil {
		return nil, size, err
	}
	defer file.Close()
	if limit <= 0 || size == 0 {
		return nil, size, nil
	}

	var buf []byte
	pos := size
	for pos > 0 && bytes.Count(buf, []byte{'\n'}) <= limit {
		n := min(int64(tailChunk), pos)
		pos -= n
		chunk := make([]byte, n)
		if _, err := file.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, size, fmt.Errorf("read log file: %w", err)
		}
		buf = append(chunk, buf...)
	}

	lines := splitLines(buf)
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, size, nil
}

// linesFrom returns the complete lines after offset. A trailing partial line
// is left for the next call. Offsets past the end restart from zero since the
// file was truncated or replaced.
func linesFrom(path string, offset int64) ([]string, int64, error) {
	file, size, err := open(path)
	if file == nil || err != nil {
		return nil, 0, err
	}
	defer file.Close()
	if offset > size {
		offset = 0
	}
	data := make([]byte, size-offset)
	if _, err := file.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, offset, fmt.Errorf("read log file: %w", err)
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, offset, nil
	}
	return splitLines(data[:end+1]), offset + int64(end) + 1, nil
}

func splitLines(data []byte) []string {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
