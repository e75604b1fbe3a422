package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"avsync/internal/config"
	"avsync/internal/logging"
)

// workSubdirs are the SyncNet work directories that hold one numbered
// subdirectory per reference.
var workSubdirs = []string{"pyavi", "pycrop", "pyframes", "pytmp", "pywork"}

// Target is one directory whose matching entries are subject to cleanup.
type Target struct {
	Name  string
	Dir   string
	Match func(os.DirEntry) bool
}

// CleanStaleResult contains the outcome of a cleanup pass.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Entry is a cleanup candidate.
type Entry struct {
	Target  string
	Path    string
	ModTime time.Time
	Size    int64
	IsDir   bool
}

// Targets lists the session leftovers for cfg: temp copies, staged uploads in
// the data directory, abandoned uploads, and numbered work directories.
func Targets(cfg *config.Config) []Target {
	targets := []Target{
		{Name: "temp", Dir: cfg.Paths.TempDir, Match: regularFile},
		{Name: "uploads", Dir: cfg.Paths.UploadDir, Match: regularFile},
		{Name: "staged", Dir: cfg.SyncNet.DataDir, Match: stagedUpload},
	}
	for _, sub := range workSubdirs {
		targets = append(targets, Target{
			Name:  sub,
			Dir:   filepath.Join(cfg.SyncNet.WorkDir, sub),
			Match: referenceDir,
		})
	}
	return targets
}

// MaxAge returns the configured stale threshold.
func MaxAge(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Staging.StaleAfterHours) * time.Hour
}

func regularFile(entry os.DirEntry) bool {
	return entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".")
}

// stagedUpload matches "{ref}_{name}" files written by session staging.
func stagedUpload(entry os.DirEntry) bool {
	if !entry.Type().IsRegular() {
		return false
	}
	prefix, _, ok := strings.Cut(entry.Name(), "_")
	return ok && isDigits(prefix)
}

func referenceDir(entry os.DirEntry) bool {
	return entry.IsDir() && isDigits(entry.Name())
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ListStale returns the entries CleanStale would remove.
func ListStale(targets []Target, maxAge time.Duration) ([]Entry, []CleanupError) {
	cutoff := time.Now().Add(-maxAge)
	var (
		entries []Entry
		errs    []CleanupError
	)
	for _, target := range targets {
		dir := strings.TrimSpace(target.Dir)
		if dir == "" {
			continue
		}
		items, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, CleanupError{Path: dir, Error: err})
			}
			continue
		}
		for _, item := range items {
			if target.Match != nil && !target.Match(item) {
				continue
			}
			path := filepath.Join(dir, item.Name())
			info, err := item.Info()
			if err != nil {
				errs = append(errs, CleanupError{Path: path, Error: err})
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			size := info.Size()
			if item.IsDir() {
				size, _ = dirSize(path)
			}
			entries = append(entries, Entry{
				Target:  target.Name,
				Path:    path,
				ModTime: info.ModTime(),
				Size:    size,
				IsDir:   item.IsDir(),
			})
		}
	}
	return entries, errs
}

// CleanStale removes target entries older than maxAge. A non-positive maxAge
// disables cleanup.
func CleanStale(ctx context.Context, targets []Target, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	if maxAge <= 0 {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, errs := ListStale(targets, maxAge)
	result.Errors = append(result.Errors, errs...)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := os.RemoveAll(entry.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: entry.Path, Error: err})
			logger.Warn("failed to remove stale session leftover",
				logging.String("path", entry.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, entry.Path)
		logger.Info("removed stale session leftover",
			logging.String("path", entry.Path),
			logging.String("target", entry.Target),
			logging.Duration("age", time.Since(entry.ModTime)),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
