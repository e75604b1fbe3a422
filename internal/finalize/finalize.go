package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"avsync/internal/config"
	"avsync/internal/detection"
	"avsync/internal/fileutil"
	"avsync/internal/iteration"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/services"
	"avsync/internal/textutil"
)

// Transformer applies shifts and container conversions.
type Transformer interface {
	ApplyCumulativeShift(ctx context.Context, original, finalOut string, totalMS int) error
	Reencode(ctx context.Context, in, out, videoCodec, audioCodec string) error
}

// VerificationError reports a candidate whose residual offset is too large.
type VerificationError struct {
	FinalOffsetMS int
	Candidate     string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("final offset incorrect: %d ms remaining in %s", e.FinalOffsetMS, filepath.Base(e.Candidate))
}

// Is matches services.ErrVerificationFailed.
func (e *VerificationError) Is(target error) bool {
	return target == services.ErrVerificationFailed
}

// Request carries what Finalize needs from the session and the loop.
type Request struct {
	InputPath        string
	OriginalFilename string
	StagedPath       string
	// LastFile is the final working file of the loop.
	LastFile     string
	TotalShiftMS int
	Reference    int
	FPS          float64
	VideoCodec   string
	AudioCodec   string
}

func (r Request) extension() string {
	return strings.ToLower(filepath.Ext(r.OriginalFilename))
}

// Settings locates outputs and bounds verification.
type Settings struct {
	FinalOutputDir    string
	FinalLogsDir      string
	NativeExtension   string
	VerifyToleranceMS int
}

// SettingsFromConfig derives Settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		FinalOutputDir:    cfg.Paths.FinalOutputDir,
		FinalLogsDir:      cfg.Paths.FinalLogsDir,
		NativeExtension:   cfg.Sync.NativeExtension,
		VerifyToleranceMS: cfg.Sync.VerifyToleranceMS,
	}
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finalizer) {
		f.logger = logging.NewComponentLogger(logger, "finalize")
	}
}

// WithNotifier reports progress messages to n.
func WithNotifier(n notifications.Notifier) Option {
	return func(f *Finalizer) {
		f.notifier = notifications.OrNop(n)
	}
}

// WithPool routes the pass-through copy through pool.
func WithPool(pool *fileutil.Pool) Option {
	return func(f *Finalizer) {
		f.pool = pool
	}
}

// Finalizer produces and verifies the final output.
type Finalizer struct {
	settings    Settings
	transformer Transformer
	detector    iteration.Detector
	analyzer    iteration.LogAnalyzer
	pool        *fileutil.Pool
	notifier    notifications.Notifier
	logger      *slog.Logger
}

// New constructs a Finalizer.
func New(settings Settings, transformer Transformer, detector iteration.Detector, analyzer iteration.LogAnalyzer, opts ...Option) *Finalizer {
	if settings.NativeExtension == "" {
		settings.NativeExtension = ".avi"
	}
	f := &Finalizer{
		settings:    settings,
		transformer: transformer,
		detector:    detector,
		analyzer:    analyzer,
		notifier:    notifications.Nop,
		logger:      logging.NewComponentLogger(nil, "finalize"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OutputPath returns final_output/corrected_{name}.
func (f *Finalizer) OutputPath(originalFilename string) string {
	return filepath.Join(f.settings.FinalOutputDir, "corrected_"+originalFilename)
}

// RestoredPath returns final_output/corrected_{stem}_restored{ext}.
func (f *Finalizer) RestoredPath(originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	return filepath.Join(f.settings.FinalOutputDir, "corrected_"+textutil.Stem(originalFilename)+"_restored"+ext)
}

// Finalize applies the total shift to the original, verifies it, and returns
// the path of the deliverable.
func (f *Finalizer) Finalize(ctx context.Context, req Request) (string, error) {
	ctx = services.WithStage(ctx, "finalize")
	logger := logging.WithContext(ctx, f.logger)
	if err := os.MkdirAll(f.settings.FinalOutputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "finalize", "create output dir", f.settings.FinalOutputDir, err)
	}

	candidate := f.OutputPath(req.OriginalFilename)
	f.notifier.Notify(ctx, "Making the final shift...")
	if err := f.transformer.ApplyCumulativeShift(ctx, req.InputPath, candidate, req.TotalShiftMS); err != nil {
		return "", err
	}
	logger.Info("cumulative shift applied",
		logging.Int("total_shift_ms", req.TotalShiftMS),
		logging.String("candidate", candidate),
		logging.String(logging.FieldEventType, "final_shift"),
	)

	f.notifier.Notify(ctx, "Double checking everything...")
	offset, err := f.verify(ctx, candidate, req)
	if err != nil {
		return "", err
	}
	if abs(offset) > f.settings.VerifyToleranceMS {
		f.notifier.Notify(ctx, "Something went wrong behind the scenes and your clip wasn't synced properly.")
		logging.ErrorWithContext(logger, "verification rejected output", "verification_failed",
			logging.Int("final_offset_ms", offset),
			logging.Int("tolerance_ms", f.settings.VerifyToleranceMS),
			logging.String("candidate", candidate),
			logging.String(logging.FieldErrorHint, "retry the upload; the candidate is kept for inspection"),
		)
		return "", &VerificationError{FinalOffsetMS: offset, Candidate: candidate}
	}
	logger.Info("verification passed",
		logging.Int("final_offset_ms", offset),
		logging.String(logging.FieldEventType, "verification_passed"),
	)

	if req.LastFile != "" && req.LastFile != req.StagedPath {
		if err := fileutil.RemoveIfExists(req.LastFile); err != nil {
			logging.WarnWithContext(logger, "last iteration file not removed", "cleanup_failed",
				logging.String("path", req.LastFile),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stray file left until stale cleanup"),
			)
		}
	}

	if req.extension() == strings.ToLower(f.settings.NativeExtension) {
		return candidate, nil
	}
	return f.restore(ctx, candidate, req)
}

// PassThrough produces the deliverable for a clip that needed no shift.
func (f *Finalizer) PassThrough(ctx context.Context, req Request) (string, error) {
	ctx = services.WithStage(ctx, "finalize")
	if err := os.MkdirAll(f.settings.FinalOutputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "finalize", "create output dir", f.settings.FinalOutputDir, err)
	}
	f.notifier.Notify(ctx, "Your clip was already in sync on the first pass; skipping final verification.")
	if req.extension() != strings.ToLower(f.settings.NativeExtension) {
		return f.restore(ctx, req.InputPath, req)
	}
	out := f.OutputPath(req.OriginalFilename)
	err := f.pool.Do(ctx, func() error {
		return fileutil.CopyFile(req.InputPath, out)
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "finalize", "copy original", out, err)
	}
	return out, nil
}

func (f *Finalizer) verify(ctx context.Context, candidate string, req Request) (int, error) {
	if err := f.detector.RunPreprocessing(ctx, candidate, req.Reference); err != nil {
		return 0, err
	}
	logPath := filepath.Join(f.settings.FinalLogsDir, fmt.Sprintf("final_output_%s.log", detection.FormatReference(req.Reference)))
	logPath, err := f.detector.RunDetector(ctx, req.Reference, logPath)
	if err != nil {
		return 0, err
	}
	return f.analyzer.AnalyzeFile(logPath, req.FPS).BestOffsetMS, nil
}

func (f *Finalizer) restore(ctx context.Context, in string, req Request) (string, error) {
	out := f.RestoredPath(req.OriginalFilename)
	logging.WithContext(ctx, f.logger).Info("restoring original container",
		logging.String("input", in),
		logging.String("output", out),
		logging.String("video_codec", req.VideoCodec),
		logging.String("audio_codec", req.AudioCodec),
		logging.String(logging.FieldEventType, "restore_container"),
	)
	if err := f.transformer.Reencode(ctx, in, out, req.VideoCodec, req.AudioCodec); err != nil {
		return "", err
	}
	return out, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
