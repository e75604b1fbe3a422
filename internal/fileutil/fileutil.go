package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// CopyFile copies src to dst with mode 0o644. The data is written to a
// temporary sibling of dst first so readers never observe a partial file.
func CopyFile(src, dst string) error {
	return copyViaTemp(src, dst, false)
}

// CopyFileVerified copies like CopyFile, then re-reads the copy from disk and
// compares its size and SHA-256 digest with what was read from src. dst is
// not created when they differ.
func CopyFileVerified(src, dst string) error {
	return copyViaTemp(src, dst, true)
}

func copyViaTemp(src, dst string, verify bool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	srcSum := sha256.New()
	written, err := io.Copy(tmp, io.TeeReader(in, srcSum))
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if verify {
		size, sum, err := digest(tmp.Name())
		if err != nil {
			return fmt.Errorf("verify copy: %w", err)
		}
		if size != written {
			return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", written, size)
		}
		if !bytes.Equal(srcSum.Sum(nil), sum) {
			return errors.New("copy hash mismatch: file corrupted during copy")
		}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	committed = true
	return nil
}

func digest(path string) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, err
	}
	return n, h.Sum(nil), nil
}

// MoveFile renames src to dst, falling back to copy and delete when the two
// paths live on different filesystems.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := CopyFileVerified(src, dst); err != nil {
		return fmt.Errorf("cross-device copy: %w", err)
	}
	return os.Remove(src)
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
