package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"avsync/internal/fileutil"
	"avsync/internal/logging"
	"avsync/internal/media/ffprobe"
	"avsync/internal/procexec"
	"avsync/internal/services"
)

// StreamCopy asks ffmpeg to pass a stream through untouched.
const StreamCopy = "copy"

// AudioProber reads the audio properties a shift must preserve.
type AudioProber interface {
	ProbeAudio(ctx context.Context, path string) (ffprobe.AudioProperties, error)
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithExecutor injects a custom process executor (primarily for tests).
func WithExecutor(exec procexec.Executor) Option {
	return func(t *Transformer) {
		if exec != nil {
			t.runnerOpts = append(t.runnerOpts, procexec.WithExecutor(exec))
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transformer) {
		t.logger = logging.NewComponentLogger(logger, "ffmpeg")
	}
}

// WithThreads overrides the encoder thread count.
func WithThreads(threads int) Option {
	return func(t *Transformer) {
		if threads > 0 {
			t.threads = threads
		}
	}
}

// Transformer wraps ffmpeg invocations.
type Transformer struct {
	binary     string
	threads    int
	prober     AudioProber
	runner     *procexec.Runner
	runnerOpts []procexec.Option
	logger     *slog.Logger
}

// New constructs a Transformer bounded by timeout per invocation.
func New(binary string, timeout time.Duration, prober AudioProber, opts ...Option) *Transformer {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	t := &Transformer{
		binary:  binary,
		threads: 4,
		prober:  prober,
		logger:  logging.NewComponentLogger(nil, "ffmpeg"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.runner = procexec.NewRunner(timeout, t.runnerOpts...)
	return t
}

// ShiftFilter returns the audio filter that moves audio by offsetMS.
// Positive offsets delay the audio; zero and negative offsets trim its start.
// Both pad the tail with silence so -shortest keeps the video length.
func ShiftFilter(offsetMS int) string {
	if offsetMS > 0 {
		return fmt.Sprintf("adelay=%d|%d,apad", offsetMS, offsetMS)
	}
	seconds := float64(-offsetMS) / 1000
	return "atrim=start=" + strconv.FormatFloat(seconds, 'f', -1, 64) + ",apad"
}

// ShiftAudio writes out with the audio of in moved by offsetMS.
func (t *Transformer) ShiftAudio(ctx context.Context, in, out string, offsetMS int) error {
	if !fileutil.Exists(in) {
		return services.Wrap(services.ErrPipelineFailure, "ffmpeg", "shift audio", "input not found: "+in, nil)
	}
	audio, err := t.prober.ProbeAudio(ctx, in)
	if err != nil {
		// audio presence was checked during preparation
		return services.Wrap(services.ErrPipelineFailure, "ffmpeg", "shift audio", err.Error(), nil)
	}
	filter := ShiftFilter(offsetMS)
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-c:v", StreamCopy,
		"-af", filter,
	}
	if audio.Codec != "" {
		args = append(args, "-c:a", audio.Codec)
	}
	if audio.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(audio.SampleRate))
	}
	if audio.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(audio.Channels))
	}
	args = append(args, "-threads", strconv.Itoa(t.threads), "-shortest", out)

	t.logger.Info("shifting audio",
		logging.String("input", in),
		logging.String("output", out),
		logging.Int("offset_ms", offsetMS),
		logging.String("filter", filter),
		logging.String(logging.FieldEventType, "audio_shift"),
	)
	return t.run(ctx, "shift audio", args)
}

// ApplyCumulativeShift shifts a private copy of original into finalOut. The
// copy gets a unique hidden name next to finalOut and is removed afterwards,
// so original is never touched even when it lives in that directory.
func (t *Transformer) ApplyCumulativeShift(ctx context.Context, original, finalOut string, totalMS int) error {
	ext := filepath.Ext(original)
	stem := strings.TrimSuffix(filepath.Base(original), ext)
	tmp, err := os.CreateTemp(filepath.Dir(finalOut), "."+stem+".*"+ext)
	if err != nil {
		return services.Wrap(services.ErrPipelineFailure, "ffmpeg", "copy original", original, err)
	}
	copyPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err := fileutil.RemoveIfExists(copyPath); err != nil {
			logging.WarnWithContext(t.logger, "temporary copy not removed", "cleanup_failed",
				logging.String("path", copyPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stray file left in the output directory"),
			)
		}
	}()
	if err := fileutil.CopyFile(original, copyPath); err != nil {
		return services.Wrap(services.ErrPipelineFailure, "ffmpeg", "copy original", original, err)
	}
	if err := t.ShiftAudio(ctx, copyPath, finalOut, totalMS); err != nil {
		return fmt.Errorf("apply cumulative shift: %w", err)
	}
	return nil
}

// ReencodeToNative converts in to the detector's working container using the
// given codec pair.
func (t *Transformer) ReencodeToNative(ctx context.Context, in, out, videoCodec, audioCodec string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-vcodec", codecOrCopy(videoCodec),
		"-acodec", codecOrCopy(audioCodec),
		"-strict", "experimental",
		out,
	}
	t.logger.Info("re-encoding to working container",
		logging.String("input", in),
		logging.String("output", out),
		logging.String(logging.FieldEventType, "reencode_native"),
	)
	return t.run(ctx, "reencode", args)
}

// Reencode writes in to out (whose extension selects the container) using the
// given codecs. Empty codecs fall back to stream copy.
func (t *Transformer) Reencode(ctx context.Context, in, out, videoCodec, audioCodec string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-vcodec", codecOrCopy(videoCodec),
		"-acodec", codecOrCopy(audioCodec),
		out,
	}
	t.logger.Info("restoring container",
		logging.String("input", in),
		logging.String("output", out),
		logging.String(logging.FieldEventType, "reencode_restore"),
	)
	return t.run(ctx, "restore container", args)
}

func (t *Transformer) run(ctx context.Context, operation string, args []string) error {
	out := args[len(args)-1]
	err := t.runner.Run(ctx, procexec.Command{Binary: t.binary, Args: args}, func(line string) {
		t.logger.Debug("ffmpeg output", logging.String("line", line))
	})
	if err != nil {
		marker := services.ErrPipelineFailure
		if procexec.IsTimeout(err) {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, "ffmpeg", operation, filepath.Base(out), err)
	}
	if _, statErr := os.Stat(out); statErr != nil {
		return services.Wrap(services.ErrPipelineFailure, "ffmpeg", operation, "output missing: "+out, statErr)
	}
	return nil
}

func codecOrCopy(codec string) string {
	if codec = strings.TrimSpace(codec); codec != "" {
		return codec
	}
	return StreamCopy
}
