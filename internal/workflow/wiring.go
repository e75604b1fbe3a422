package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"avsync/internal/analysis"
	"avsync/internal/config"
	"avsync/internal/detection"
	"avsync/internal/fileutil"
	"avsync/internal/finalize"
	"avsync/internal/history"
	"avsync/internal/iteration"
	"avsync/internal/media/ffmpeg"
	"avsync/internal/media/ffprobe"
	"avsync/internal/notifications"
	"avsync/internal/procexec"
	"avsync/internal/session"
)

// Dependencies are the shared collaborators of a configured Orchestrator.
type Dependencies struct {
	Logger   *slog.Logger
	Notifier notifications.Notifier
	Service  notifications.Service
	History  *history.Store
	// Executor overrides subprocess execution (tests).
	Executor procexec.Executor
}

// NewFromConfig wires the production pipeline from cfg.
func NewFromConfig(cfg *config.Config, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	mediaTimeout := time.Duration(cfg.Media.FFmpegTimeout) * time.Second
	var runnerOpts []procexec.Option
	var ffmpegOpts []ffmpeg.Option
	var detectionOpts []detection.Option
	if deps.Executor != nil {
		runnerOpts = append(runnerOpts, procexec.WithExecutor(deps.Executor))
		ffmpegOpts = append(ffmpegOpts, ffmpeg.WithExecutor(deps.Executor))
		detectionOpts = append(detectionOpts, detection.WithExecutor(deps.Executor))
	}

	prober := ffprobe.NewProber(cfg.FFprobeBinary(), mediaTimeout, runnerOpts...)
	ffmpegOpts = append(ffmpegOpts, ffmpeg.WithLogger(deps.Logger), ffmpeg.WithThreads(cfg.Media.FFmpegThreads))
	transformer := ffmpeg.New(cfg.FFmpegBinary(), mediaTimeout, prober, ffmpegOpts...)

	detectionOpts = append(detectionOpts, detection.WithLogger(deps.Logger))
	detector, err := detection.New(detection.SettingsFromConfig(cfg), detectionOpts...)
	if err != nil {
		return nil, fmt.Errorf("detection client: %w", err)
	}
	analyzer := analysis.NewAnalyzer(deps.Logger)
	pool := fileutil.NewPool(cfg.Server.IOWorkers)

	preparer := session.NewPreparer(
		session.SettingsFromConfig(cfg),
		session.NewAllocator(cfg.PyaviDir()),
		prober,
		transformer,
		session.WithLogger(deps.Logger),
		session.WithNotifier(deps.Notifier),
		session.WithPool(pool),
	)
	loop := iteration.NewController(
		iteration.SettingsFromConfig(cfg),
		detector,
		analyzer,
		transformer,
		iteration.WithLogger(deps.Logger),
		iteration.WithNotifier(deps.Notifier),
	)
	finisher := finalize.New(
		finalize.SettingsFromConfig(cfg),
		transformer,
		detector,
		analyzer,
		finalize.WithLogger(deps.Logger),
		finalize.WithNotifier(deps.Notifier),
		finalize.WithPool(pool),
	)

	opts := []Option{
		WithLogger(deps.Logger),
		WithNotifier(deps.Notifier),
		WithConcurrency(cfg.Server.MaxConcurrentSessions),
	}
	if deps.Service != nil {
		opts = append(opts, WithService(deps.Service))
	}
	if deps.History != nil {
		opts = append(opts, WithHistory(deps.History))
	}
	return New(preparer, loop, finisher, opts...), nil
}
