package iteration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"avsync/internal/analysis"
	"avsync/internal/config"
	"avsync/internal/detection"
	"avsync/internal/fileutil"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/services"
	"avsync/internal/textutil"
)

// State is a position in the convergence loop.
type State string

const (
	StateMeasuring     State = "measuring"
	StateShifting      State = "shifting"
	StateAlreadyInSync State = "already_in_sync"
	StateConverged     State = "converged"
	StateMaxIterations State = "max_iterations_reached"
	StateFailed        State = "failed"
)

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	switch s {
	case StateAlreadyInSync, StateConverged, StateMaxIterations, StateFailed:
		return true
	default:
		return false
	}
}

// Detector runs the preprocessing pipeline and offset detector.
type Detector interface {
	RunPreprocessing(ctx context.Context, videoFile string, ref int) error
	RunDetector(ctx context.Context, ref int, logPath string) (string, error)
}

// LogAnalyzer reads the best offset from a detector log.
type LogAnalyzer interface {
	AnalyzeFile(path string, fps float64) analysis.Result
}

// Shifter moves the audio of a file.
type Shifter interface {
	ShiftAudio(ctx context.Context, in, out string, offsetMS int) error
}

// Recorder persists one measurement per pass.
type Recorder interface {
	RecordIteration(ctx context.Context, rec Record) error
}

// Record describes one completed measurement.
type Record struct {
	Iteration    int       `json:"iteration"`
	Reference    int       `json:"reference"`
	InputFile    string    `json:"input_file"`
	OutputFile   string    `json:"output_file,omitempty"`
	LogPath      string    `json:"log_path"`
	OffsetMS     int       `json:"offset_ms"`
	Confidence   float64   `json:"confidence"`
	TotalShiftMS int       `json:"total_shift_ms"`
	State        State     `json:"state"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Input seeds one run.
type Input struct {
	WorkingFile      string
	OriginalFilename string
	FPS              float64
	Reference        int
	// Recorder, when set, receives this run's measurements instead of the
	// controller's default recorder.
	Recorder Recorder
}

// Result summarizes a finished loop.
type Result struct {
	TotalShiftMS int
	FinalFile    string
	// Reference is the reference of the last measurement, or the next unused
	// one when the budget ran out after a shift.
	Reference  int
	Iterations int
	Terminal   State
}

// Settings bounds the loop and locates its files.
type Settings struct {
	MaxIterations   int
	TempDir         string
	FinalLogsDir    string
	NativeExtension string
}

// SettingsFromConfig derives Settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxIterations:   cfg.Sync.MaxIterations,
		TempDir:         cfg.Paths.TempDir,
		FinalLogsDir:    cfg.Paths.FinalLogsDir,
		NativeExtension: cfg.Sync.NativeExtension,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logging.NewComponentLogger(logger, "iteration")
	}
}

// WithNotifier reports progress messages to n.
func WithNotifier(n notifications.Notifier) Option {
	return func(c *Controller) {
		c.notifier = notifications.OrNop(n)
	}
}

// WithRecorder stores every measurement through r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// Controller drives the convergence loop.
type Controller struct {
	settings Settings
	detector Detector
	analyzer LogAnalyzer
	shifter  Shifter
	recorder Recorder
	notifier notifications.Notifier
	logger   *slog.Logger
}

// NewController constructs a Controller.
func NewController(settings Settings, detector Detector, analyzer LogAnalyzer, shifter Shifter, opts ...Option) *Controller {
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = 10
	}
	if settings.NativeExtension == "" {
		settings.NativeExtension = ".avi"
	}
	c := &Controller{
		settings: settings,
		detector: detector,
		analyzer: analyzer,
		shifter:  shifter,
		notifier: notifications.Nop,
		logger:   logging.NewComponentLogger(nil, "iteration"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run carries the loop variables between states.
type run struct {
	input     Input
	state     State
	current   string
	reference int
	iteration int
	totalMS   int
	offsetMS  int
}

// Run measures and shifts until the offset reaches zero or the budget is
// spent. The first working file is never deleted.
func (c *Controller) Run(ctx context.Context, in Input) (Result, error) {
	r := &run{input: in, state: StateMeasuring, current: in.WorkingFile, reference: in.Reference}
	ctx = services.WithStage(ctx, "iterate")
	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()

	for !r.state.Terminal() {
		var err error
		switch r.state {
		case StateMeasuring:
			err = c.measure(ctx, logger, r)
		case StateShifting:
			err = c.shift(ctx, logger, r)
		default:
			err = fmt.Errorf("unexpected loop state %q", r.state)
		}
		if err != nil {
			r.state = StateFailed
			logging.ErrorWithContext(logger, "sync loop failed", "iteration_failed",
				logging.Int("iteration", r.iteration),
				logging.Int(logging.FieldReference, r.reference),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the detector and ffmpeg logs for this reference"),
			)
			return r.result(), err
		}
	}

	logger.Info("sync loop finished",
		logging.String("terminal", string(r.state)),
		logging.Int("iterations", r.iteration),
		logging.Int("total_shift_ms", r.totalMS),
		logging.Duration("duration", time.Since(started)),
		logging.String(logging.FieldEventType, "iteration_complete"),
	)
	return r.result(), nil
}

func (c *Controller) measure(ctx context.Context, logger *slog.Logger, r *run) error {
	if r.iteration >= c.settings.MaxIterations {
		r.state = StateMaxIterations
		c.notifier.Notify(ctx, fmt.Sprintf("Reached the limit of %d passes; finishing...", c.settings.MaxIterations))
		return nil
	}
	r.iteration++
	c.notifier.Notify(ctx, fmt.Sprintf("Pass number %d in progress...", r.iteration))
	logger.Info("pass started",
		logging.Int("iteration", r.iteration),
		logging.Int(logging.FieldReference, r.reference),
		logging.String("file", r.current),
		logging.String(logging.FieldEventType, "pass_start"),
	)

	c.notifier.Notify(ctx, "Running the pipeline...")
	if err := c.detector.RunPreprocessing(ctx, r.current, r.reference); err != nil {
		return err
	}
	c.notifier.Notify(ctx, "Running the model...")
	logPath := filepath.Join(c.settings.FinalLogsDir, fmt.Sprintf("run_%s.log", detection.FormatReference(r.reference)))
	logPath, err := c.detector.RunDetector(ctx, r.reference, logPath)
	if err != nil {
		return err
	}

	c.notifier.Notify(ctx, "Analyzing the results that came back...")
	res := c.analyzer.AnalyzeFile(logPath, r.input.FPS)
	r.offsetMS = res.BestOffsetMS

	switch {
	case r.offsetMS == 0 && r.iteration == 1:
		r.state = StateAlreadyInSync
	case r.offsetMS == 0:
		r.state = StateConverged
		c.notifier.Notify(ctx, "Clip is now perfectly in sync; finishing...")
	default:
		r.state = StateShifting
	}
	c.record(ctx, logger, r.input.Recorder, Record{
		Iteration:    r.iteration,
		Reference:    r.reference,
		InputFile:    r.current,
		LogPath:      logPath,
		OffsetMS:     r.offsetMS,
		Confidence:   res.TotalConfidence,
		TotalShiftMS: r.totalMS + r.offsetMS,
		State:        r.state,
	})
	return nil
}

// IterationFileName names the file a pass writes. The session's first
// reference keeps concurrent sessions with the same upload name apart.
func IterationFileName(iteration, reference int, originalFilename, ext string) string {
	return fmt.Sprintf("corrected_iter%d_%05d_%s%s", iteration, reference, textutil.Stem(originalFilename), ext)
}

func (c *Controller) shift(ctx context.Context, logger *slog.Logger, r *run) error {
	r.totalMS += r.offsetMS
	c.notifier.Notify(ctx, fmt.Sprintf("Total shift after pass %d will be %d ms.", r.iteration, r.totalMS))

	name := IterationFileName(r.iteration, r.input.Reference, r.input.OriginalFilename, c.settings.NativeExtension)
	out := filepath.Join(c.settings.TempDir, name)
	c.notifier.Notify(ctx, "Adjusting the streams in your file...")
	if err := c.shifter.ShiftAudio(ctx, r.current, out, r.offsetMS); err != nil {
		return err
	}
	if !fileutil.Exists(out) {
		return services.Wrap(services.ErrPipelineFailure, "iterate", "shift audio", "corrected file was not created: "+out, nil)
	}

	if r.current != r.input.WorkingFile {
		if err := fileutil.RemoveIfExists(r.current); err != nil {
			logging.WarnWithContext(logger, "superseded working file not removed", "cleanup_failed",
				logging.String("path", r.current),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stray file left in the temp directory"),
			)
		}
	}
	logger.Info("audio shifted",
		logging.Int("iteration", r.iteration),
		logging.Int("offset_ms", r.offsetMS),
		logging.Int("total_shift_ms", r.totalMS),
		logging.String("output", out),
		logging.String(logging.FieldEventType, "pass_shift"),
	)
	r.current = out
	r.reference++
	r.state = StateMeasuring
	return nil
}

func (c *Controller) record(ctx context.Context, logger *slog.Logger, recorder Recorder, rec Record) {
	if recorder == nil {
		recorder = c.recorder
	}
	if recorder == nil {
		return
	}
	rec.RecordedAt = time.Now().UTC()
	if err := recorder.RecordIteration(ctx, rec); err != nil {
		logging.WarnWithContext(logger, "iteration not recorded", "history_write_failed",
			logging.Int("iteration", rec.Iteration),
			logging.Error(err),
			logging.String(logging.FieldImpact, "session history incomplete"),
		)
	}
}

func (r *run) result() Result {
	return Result{
		TotalShiftMS: r.totalMS,
		FinalFile:    r.current,
		Reference:    r.reference,
		Iterations:   r.iteration,
		Terminal:     r.state,
	}
}
