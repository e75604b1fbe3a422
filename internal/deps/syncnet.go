package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"avsync/internal/config"
)

// ModuleFile maps a dotted Python module under baseDir to its source file.
func ModuleFile(baseDir, module string) string {
	parts := strings.Split(strings.TrimSpace(module), ".")
	parts[len(parts)-1] += ".py"
	return filepath.Join(append([]string{baseDir}, parts...)...)
}

// CheckSyncNet reports whether the pipeline and detector modules exist in the
// configured SyncNet checkout.
func CheckSyncNet(cfg *config.Config) []Status {
	modules := []struct {
		name   string
		module string
		desc   string
	}{
		{"SyncNet pipeline", cfg.SyncNet.PipelineModule, "Face tracking and crop extraction"},
		{"SyncNet detector", cfg.SyncNet.DetectorModule, "Audio/video offset detection"},
	}
	results := make([]Status, 0, len(modules))
	for _, m := range modules {
		status := Status{Name: m.name, Command: m.module, Description: m.desc}
		if strings.TrimSpace(m.module) == "" {
			status.Detail = "module not configured"
			results = append(results, status)
			continue
		}
		file := ModuleFile(cfg.SyncNet.BaseDir, m.module)
		info, err := os.Stat(file)
		switch {
		case err != nil:
			status.Detail = fmt.Sprintf("%s not found", file)
		case info.IsDir():
			status.Detail = fmt.Sprintf("%s is a directory", file)
		default:
			status.Available = true
			status.Path = file
		}
		results = append(results, status)
	}
	return results
}
