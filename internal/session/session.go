package session

import (
	"path/filepath"
	"strings"

	"avsync/internal/media/ffprobe"
)

// Session is the mutable state of one synchronization run.
type Session struct {
	Reference        int    `json:"reference"`
	OriginalFilename string `json:"original_filename"`
	// InputPath is the untouched upload; cumulative shifts are applied to it.
	InputPath string `json:"input_path"`
	// StagedPath is the {ref}_{name} copy in the detector data directory.
	StagedPath string `json:"staged_path"`
	// WorkingFile is the native-container file the detector reads first.
	WorkingFile       string                  `json:"working_file"`
	Video             ffprobe.VideoProperties `json:"video"`
	Audio             ffprobe.AudioProperties `json:"audio"`
	CumulativeShiftMS int                     `json:"cumulative_shift_ms"`
	// ReferenceLimit is the last reference number reserved for this session.
	ReferenceLimit int `json:"reference_limit"`
}

// Extension returns the lowercased extension of the original filename.
func (s *Session) Extension() string {
	return strings.ToLower(filepath.Ext(s.OriginalFilename))
}

// IsNative reports whether the original already uses the native container.
func (s *Session) IsNative(native string) bool {
	return s.Extension() == strings.ToLower(native)
}
