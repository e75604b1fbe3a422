package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"avsync/internal/fileutil"
	"avsync/internal/procexec"
)

// Toolchain is a procexec.Executor that imitates ffprobe, ffmpeg and the
// detector tools. Each detector run reports the next entry of Frames as its
// offset (zero once Frames is exhausted).
type Toolchain struct {
	mu sync.Mutex

	Frames    []int
	FrameRate string
	NoAudio   bool
	NoVideo   bool
	// FailPipeline makes every preprocessing run exit nonzero.
	FailPipeline bool

	commands     []procexec.Command
	detectorRuns int
}

// NewToolchain returns a toolchain reporting frames at 25 fps.
func NewToolchain(frames ...int) *Toolchain {
	return &Toolchain{Frames: frames, FrameRate: "25/1"}
}

// Run implements procexec.Executor.
func (tc *Toolchain) Run(_ context.Context, cmd procexec.Command, onLine func(string)) error {
	tc.mu.Lock()
	tc.commands = append(tc.commands, cmd)
	tc.mu.Unlock()

	switch filepath.Base(cmd.Binary) {
	case "ffprobe":
		onLine(tc.probeJSON())
		return nil
	case "ffmpeg":
		return tc.transcode(cmd)
	default:
		return tc.python(cmd, onLine)
	}
}

// Commands returns every command seen so far.
func (tc *Toolchain) Commands() []procexec.Command {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]procexec.Command(nil), tc.commands...)
}

// DetectorRuns reports how many detector invocations happened.
func (tc *Toolchain) DetectorRuns() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.detectorRuns
}

func (tc *Toolchain) probeJSON() string {
	var streams []string
	if !tc.NoVideo {
		streams = append(streams, fmt.Sprintf(`{"index":0,"codec_name":"h264","codec_type":"video","width":640,"height":360,"avg_frame_rate":%q}`, tc.FrameRate))
	}
	if !tc.NoAudio {
		streams = append(streams, `{"index":1,"codec_name":"aac","codec_type":"audio","sample_rate":"48000","channels":2}`)
	}
	return `{"streams":[` + strings.Join(streams, ",") + `],"format":{"duration":"12.0"}}`
}

func (tc *Toolchain) transcode(cmd procexec.Command) error {
	var in string
	for i, arg := range cmd.Args {
		if arg == "-i" && i+1 < len(cmd.Args) {
			in = cmd.Args[i+1]
		}
	}
	out := cmd.Args[len(cmd.Args)-1]
	if in == "" {
		return &procexec.ExitError{Command: cmd.String(), ExitCode: 1}
	}
	return fileutil.CopyFile(in, out)
}

func (tc *Toolchain) python(cmd procexec.Command, onLine func(string)) error {
	joined := strings.Join(cmd.Args, " ")
	switch {
	case strings.Contains(joined, "run_pipeline"):
		if tc.FailPipeline {
			onLine("RuntimeError: no faces detected")
			return &procexec.ExitError{Command: cmd.String(), ExitCode: 1, Tail: []string{"no faces detected"}}
		}
		onLine("tracked 1 face")
		return nil
	case strings.Contains(joined, "run_syncnet"):
		tc.mu.Lock()
		frames := 0
		if tc.detectorRuns < len(tc.Frames) {
			frames = tc.Frames[tc.detectorRuns]
		}
		tc.detectorRuns++
		tc.mu.Unlock()
		onLine(fmt.Sprintf("AV offset: \t%d", frames))
		onLine("Min dist: \t6.512")
		onLine("Confidence: \t8.250")
		return nil
	default:
		return &procexec.ExitError{Command: cmd.String(), ExitCode: 127}
	}
}
