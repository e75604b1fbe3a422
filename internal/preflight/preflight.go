package preflight

import (
	"context"
	"fmt"
	"strings"

	"avsync/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// RunAll executes every applicable check for cfg: external programs, SyncNet
// modules, working directories, and the ntfy topic when one is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, status := range CheckSystemDeps(cfg) {
		detail := status.Detail
		if status.Available {
			detail = status.Path
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail, Optional: status.Optional})
	}

	dirs := []struct {
		name string
		path string
	}{
		{"Temp directory", cfg.Paths.TempDir},
		{"Output directory", cfg.Paths.FinalOutputDir},
		{"Log directory", cfg.Paths.LogDir},
		{"Upload directory", cfg.Paths.UploadDir},
		{"SyncNet data directory", cfg.SyncNet.DataDir},
		{"SyncNet work directory", cfg.SyncNet.WorkDir},
	}
	for _, dir := range dirs {
		results = append(results, CheckDirectoryAccess(dir.name, dir.path))
	}
	if cfg.Paths.InboxDir != "" {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Paths.InboxDir))
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		check := CheckNtfy(ctx, cfg.Notifications.NtfyTopic)
		check.Optional = true
		results = append(results, check)
	}
	return results
}

// Failures returns the required checks that did not pass.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// Err summarizes failed required checks as an error, or returns nil.
func Err(results []Result) error {
	failed := Failures(results)
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(parts, "; "))
}
