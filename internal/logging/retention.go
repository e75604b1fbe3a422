package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// RetentionTarget names a directory whose files matching Pattern are subject
// to age-based pruning. An empty Pattern matches every file. Paths listed in
// Exclude are never removed.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

func (t RetentionTarget) candidates() []string {
	dir := strings.TrimSpace(t.Dir)
	if dir == "" {
		return nil
	}
	pattern := strings.TrimSpace(t.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil
	}
	return slices.DeleteFunc(matches, func(path string) bool {
		return slices.ContainsFunc(t.Exclude, func(ex string) bool {
			return filepath.Clean(ex) == filepath.Clean(path)
		})
	})
}

// CleanupOldLogs deletes regular files under targets whose modification time
// is more than retentionDays in the past, returning the number removed.
// A non-positive retentionDays disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, target := range targets {
		for _, path := range target.candidates() {
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "old log not removed", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check ownership of the log directory"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			removed++
			logger.Debug("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}
