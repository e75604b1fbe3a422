package deps

import (
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"avsync/internal/config"
)

// Requirement defines an external program avsync relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	// Path is the resolved executable when Available.
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Requirements lists the programs the sync pipeline executes, resolved from
// cfg so overrides such as media.ffmpeg_binary are honoured.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "Required for audio shifts and container conversion"},
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "Required for stream inspection"},
		{Name: "Python", Command: cfg.PythonBinary(), Description: "Runs the SyncNet pipeline and detector"},
	}
}

// Check resolves the requirement's command on PATH.
func (r Requirement) Check() Status {
	st := Status{
		Name:        r.Name,
		Command:     strings.TrimSpace(r.Command),
		Description: strings.TrimSpace(r.Description),
		Optional:    r.Optional,
	}
	if st.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	path, err := exec.LookPath(st.Command)
	if err != nil {
		st.Detail = fmt.Sprintf("binary %q not found", st.Command)
		return st
	}
	st.Available, st.Path = true, path
	return st
}

// CheckBinaries checks every requirement, preserving order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = req.Check()
	}
	return results
}

// Missing filters statuses down to required dependencies that are absent.
func Missing(statuses []Status) []Status {
	return slices.DeleteFunc(slices.Clone(statuses), func(s Status) bool {
		return s.Available || s.Optional
	})
}
