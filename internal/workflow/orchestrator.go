package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"avsync/internal/finalize"
	"avsync/internal/history"
	"avsync/internal/iteration"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/services"
	"avsync/internal/session"
)

// Preparer stages an upload into a session.
type Preparer interface {
	Prepare(ctx context.Context, inputPath, originalFilename string) (*session.Session, error)
}

// Loop runs the convergence loop.
type Loop interface {
	Run(ctx context.Context, in iteration.Input) (iteration.Result, error)
}

// Finisher produces the deliverable.
type Finisher interface {
	Finalize(ctx context.Context, req finalize.Request) (string, error)
	PassThrough(ctx context.Context, req finalize.Request) (string, error)
}

// History records sessions.
type History interface {
	Begin(ctx context.Context, requestID, originalFilename, inputPath string) (*history.Session, error)
	SetReference(ctx context.Context, id int64, reference int) error
	Complete(ctx context.Context, id int64, c history.Completion) error
	Recorder(sessionID int64) iteration.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.NewComponentLogger(logger, "workflow")
	}
}

// WithNotifier reports progress messages to n.
func WithNotifier(n notifications.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = notifications.OrNop(n)
	}
}

// WithService publishes session outcomes through svc.
func WithService(svc notifications.Service) Option {
	return func(o *Orchestrator) {
		o.service = svc
	}
}

// WithHistory records every session in h.
func WithHistory(h History) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

// WithConcurrency bounds the number of sessions running at once.
func WithConcurrency(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.limit = int64(limit)
		}
	}
}

// Orchestrator composes preparation, iteration, and finalization.
type Orchestrator struct {
	preparer Preparer
	loop     Loop
	finisher Finisher
	history  History
	service  notifications.Service
	notifier notifications.Notifier
	logger   *slog.Logger
	limit    int64
	sem      *semaphore.Weighted

	mu      sync.RWMutex
	active  int
	total   int
	last    *Outcome
	lastEnd time.Time
}

// New constructs an Orchestrator.
func New(preparer Preparer, loop Loop, finisher Finisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		preparer: preparer,
		loop:     loop,
		finisher: finisher,
		notifier: notifications.Nop,
		logger:   logging.NewComponentLogger(nil, "workflow"),
		limit:    1,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sem = semaphore.NewWeighted(o.limit)
	return o
}

// Process prepares inputPath and synchronizes it.
func (o *Orchestrator) Process(ctx context.Context, inputPath, originalFilename string) (out Outcome) {
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = services.WithRequestID(ctx, requestID)
	}
	if originalFilename == "" {
		originalFilename = filepath.Base(inputPath)
	}
	logger := logging.WithContext(ctx, o.logger)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return o.withRequest(Failed(services.Wrap(services.ErrTransient, "workflow", "wait for slot", "", err)), requestID)
	}
	defer o.sem.Release(1)
	o.begin()
	started := time.Now()

	var sessionID int64
	if o.history != nil {
		rec, err := o.history.Begin(ctx, requestID, originalFilename, inputPath)
		if err != nil {
			logging.WarnWithContext(logger, "session not recorded", "history_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "session missing from history"),
			)
		} else {
			sessionID = rec.ID
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out = o.panicOutcome(logger, r)
		}
		out.SessionID = sessionID
		out = o.withRequest(out, requestID)
		o.finish(ctx, logger, out, originalFilename, time.Since(started))
	}()

	logger.Info("session started",
		logging.String("original_filename", originalFilename),
		logging.String("input", inputPath),
		logging.String(logging.FieldEventType, "session_start"),
	)
	s, err := o.preparer.Prepare(ctx, inputPath, originalFilename)
	if s != nil && sessionID != 0 {
		if refErr := o.history.SetReference(ctx, sessionID, s.Reference); refErr != nil {
			logger.Debug("reference not recorded", logging.Error(refErr))
		}
	}
	if err != nil {
		out = Failed(err)
		if s != nil {
			out.Reference = s.Reference
		}
		return out
	}
	return o.synchronize(ctx, s, sessionID)
}

// Synchronize runs the loop and the finalizer for a prepared session.
func (o *Orchestrator) Synchronize(ctx context.Context, s *session.Session) (out Outcome) {
	logger := logging.WithContext(services.WithReference(ctx, s.Reference), o.logger)
	defer func() {
		if r := recover(); r != nil {
			out = o.panicOutcome(logger, r)
		}
	}()
	return o.synchronize(ctx, s, 0)
}

func (o *Orchestrator) synchronize(ctx context.Context, s *session.Session, sessionID int64) Outcome {
	ctx = services.WithReference(ctx, s.Reference)
	o.notifier.Notify(ctx, "Ok, had a look; let's begin to sync...")

	in := iteration.Input{
		WorkingFile:      s.WorkingFile,
		OriginalFilename: s.OriginalFilename,
		FPS:              s.Video.FPS,
		Reference:        s.Reference,
	}
	if o.history != nil && sessionID != 0 {
		in.Recorder = o.history.Recorder(sessionID)
	}
	res, err := o.loop.Run(ctx, in)
	s.CumulativeShiftMS = res.TotalShiftMS
	if err != nil {
		return o.annotate(Failed(err), res)
	}

	req := finalize.Request{
		InputPath:        s.InputPath,
		OriginalFilename: s.OriginalFilename,
		StagedPath:       s.StagedPath,
		LastFile:         res.FinalFile,
		TotalShiftMS:     res.TotalShiftMS,
		Reference:        res.Reference,
		FPS:              s.Video.FPS,
		VideoCodec:       s.Video.Codec,
		AudioCodec:       s.Audio.Codec,
	}
	if res.Terminal == iteration.StateAlreadyInSync {
		path, err := o.finisher.PassThrough(ctx, req)
		if err != nil {
			return o.annotate(Failed(err), res)
		}
		return o.annotate(AlreadyInSync(path), res)
	}

	path, err := o.finisher.Finalize(ctx, req)
	if err != nil {
		return o.annotate(Failed(err), res)
	}
	return o.annotate(Corrected(path), res)
}

// Snapshot describes the orchestrator's current load.
type Snapshot struct {
	Active     int       `json:"active"`
	Limit      int       `json:"limit"`
	Completed  int       `json:"completed"`
	LastResult *Outcome  `json:"last_result,omitempty"`
	LastEnded  time.Time `json:"last_ended,omitempty"`
}

// Status returns a point-in-time snapshot.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap := Snapshot{Active: o.active, Limit: int(o.limit), Completed: o.total, LastEnded: o.lastEnd}
	if o.last != nil {
		last := *o.last
		snap.LastResult = &last
	}
	return snap
}

func (o *Orchestrator) begin() {
	o.mu.Lock()
	o.active++
	o.mu.Unlock()
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, out Outcome, filename string, elapsed time.Duration) {
	o.mu.Lock()
	o.active--
	o.total++
	o.last = &out
	o.lastEnd = time.Now()
	o.mu.Unlock()

	if out.OK() {
		logger.Info("session finished",
			logging.String("status", string(out.Status)),
			logging.String("output", out.OutputPath),
			logging.Int("total_shift_ms", out.TotalShiftMS),
			logging.Int("iterations", out.Iterations),
			logging.Duration("duration", elapsed),
			logging.String(logging.FieldEventType, "session_complete"),
		)
	} else {
		logging.ErrorWithContext(logger, "session failed", "session_failed",
			logging.String("kind", string(out.Kind)),
			logging.String("error_message", out.Message),
			logging.Duration("duration", elapsed),
			logging.String(logging.FieldErrorHint, hintFor(out.Kind)),
		)
	}

	ctx = context.WithoutCancel(ctx)
	if o.history != nil && out.SessionID != 0 {
		if err := o.history.Complete(ctx, out.SessionID, completion(out)); err != nil {
			logging.WarnWithContext(logger, "session outcome not recorded", "history_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history shows the session as running"),
			)
		}
	}
	if o.service != nil {
		event, payload := publication(out, filename)
		if err := o.service.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(logger, "outcome notification failed", "notification_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no push notification for this session"),
			)
		}
	}
}

func (o *Orchestrator) panicOutcome(logger *slog.Logger, r any) Outcome {
	logging.ErrorWithContext(logger, "unexpected fault during sync", "session_panic",
		logging.String("panic", fmt.Sprint(r)),
		logging.String("stack", string(debug.Stack())),
		logging.String(logging.FieldErrorHint, "report this as a bug with the log attached"),
	)
	return Outcome{Status: StatusError, Kind: services.KindGeneric, Message: fmt.Sprintf("unexpected error: %v", r)}
}

func (o *Orchestrator) annotate(out Outcome, res iteration.Result) Outcome {
	out.Reference = res.Reference
	out.Iterations = res.Iterations
	out.TotalShiftMS = res.TotalShiftMS
	return out
}

func (o *Orchestrator) withRequest(out Outcome, requestID string) Outcome {
	out.RequestID = requestID
	return out
}

func completion(out Outcome) history.Completion {
	c := history.Completion{
		Kind:          string(out.Kind),
		Message:       out.Message,
		OutputPath:    out.OutputPath,
		TotalShiftMS:  out.TotalShiftMS,
		Iterations:    out.Iterations,
		FinalOffsetMS: out.FinalOffsetMS,
	}
	switch out.Status {
	case StatusCorrected:
		c.Status = history.StatusCorrected
	case StatusAlreadyInSync:
		c.Status = history.StatusAlreadyInSync
	default:
		c.Status = history.StatusError
	}
	return c
}

func publication(out Outcome, filename string) (notifications.Event, notifications.Payload) {
	switch out.Status {
	case StatusCorrected:
		return notifications.EventSessionCorrected, notifications.Payload{"filename": filename, "shiftMs": out.TotalShiftMS}
	case StatusAlreadyInSync:
		return notifications.EventSessionAlreadySync, notifications.Payload{"filename": filename}
	default:
		return notifications.EventSessionFailed, notifications.Payload{"filename": filename, "kind": string(out.Kind), "error": out.Message}
	}
}

func hintFor(kind services.Kind) string {
	switch kind {
	case services.KindNoAudioStream, services.KindNoVideoStream, services.KindFPSUnavailable:
		return "the upload cannot be synchronized; check it with ffprobe"
	case services.KindPipelineFailure:
		return "inspect the detector and ffmpeg logs for this reference"
	case services.KindVerificationFailed:
		return "retry the upload; the rejected candidate is kept in final_output"
	default:
		return "inspect the session log"
	}
}
