package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"avsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig returns a config whose directories all live under one fresh
// temp directory, with the server bound to an ephemeral port. Options run
// after those defaults.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	for dst, rel := range map[*string]string{
		&cfg.Paths.TempDir:        "temp_input",
		&cfg.Paths.FinalOutputDir: "final_output",
		&cfg.Paths.LogDir:         "logs",
		&cfg.Paths.FinalLogsDir:   "logs/final_logs",
		&cfg.Paths.RunLogsDir:     "logs/run_logs",
		&cfg.Paths.UploadDir:      "uploads",
		&cfg.SyncNet.BaseDir:      "syncnet",
		&cfg.SyncNet.DataDir:      "syncnet/data",
		&cfg.SyncNet.WorkDir:      "syncnet/data/work",
	} {
		*dst = filepath.Join(base, filepath.FromSlash(rel))
	}
	cfg.Paths.InboxDir = ""
	cfg.Server.Bind = "127.0.0.1:0"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfg}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithMaxIterations overrides the loop budget.
func WithMaxIterations(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.MaxIterations = n
	}
}

// WithInbox enables the inbox directory under the temp root.
func WithInbox() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.InboxDir = filepath.Join(b.baseDir, "inbox")
	}
}

// WithEnsuredDirectories creates every configured directory.
func WithEnsuredDirectories() ConfigOption {
	return func(b *configBuilder) {
		if err := b.cfg.EnsureDirectories(); err != nil {
			b.t.Fatalf("ensure directories: %v", err)
		}
	}
}

// WithStubbedBinaries puts no-op executables for names (ffmpeg, ffprobe and
// python by default) first on PATH for the duration of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "python"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.TempDir)
}
