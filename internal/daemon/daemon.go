package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"avsync/internal/config"
	"avsync/internal/deps"
	"avsync/internal/history"
	"avsync/internal/logging"
	"avsync/internal/preflight"
	"avsync/internal/staging"
	"avsync/internal/workflow"
)

// LockFileName is created in the log directory while a server runs.
const LockFileName = "avsync.lock"

// Server is the HTTP surface managed by the daemon.
type Server interface {
	Start(ctx context.Context) error
	Stop()
	Addr() string
}

// Runner is a background loop such as the inbox watcher.
type Runner interface {
	Run(ctx context.Context) error
}

// StatusSource reports orchestrator load.
type StatusSource interface {
	Status() workflow.Snapshot
}

// Components are the services a Daemon manages. Inbox and History may be nil.
type Components struct {
	Logger   *slog.Logger
	Server   Server
	Inbox    Runner
	History  *history.Store
	Workflow StatusSource
	// CleanupInterval schedules stale cleanup; zero disables it.
	CleanupInterval time.Duration
}

// Daemon owns the server lifecycle and the single-instance lock.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	components Components

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool              `json:"running"`
	Address      string            `json:"address,omitempty"`
	LockFilePath string            `json:"lock_file"`
	HistoryPath  string            `json:"history_db,omitempty"`
	Workflow     workflow.Snapshot `json:"workflow"`
	Dependencies []deps.Status     `json:"dependencies"`
}

// New constructs a daemon.
func New(cfg *config.Config, components Components) (*Daemon, error) {
	if cfg == nil || components.Server == nil {
		return nil, errors.New("daemon requires config and server")
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, LockFileName)
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(components.Logger, "daemon"),
		components: components,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the lock and launches the server and background loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another avsync server instance is already running")
	}

	if d.components.History != nil {
		if n, err := d.components.History.MarkInterrupted(ctx); err != nil {
			logging.WarnWithContext(d.logger, "interrupted sessions not marked", "history_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history may show stale running sessions"),
			)
		} else if n > 0 {
			d.logger.Info("sessions from previous run marked interrupted",
				logging.Int64("count", n),
				logging.String(logging.FieldEventType, "history_recovered"),
			)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.components.Server.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start http server: %w", err)
	}
	d.cancel = cancel

	if d.components.Inbox != nil {
		d.wg.Go(func() {
			if err := d.components.Inbox.Run(runCtx); err != nil {
				logging.ErrorWithContext(d.logger, "inbox watcher stopped", "inbox_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check paths.inbox_dir"),
				)
			}
		})
	}
	if d.components.CleanupInterval > 0 {
		d.wg.Go(func() { d.cleanupLoop(runCtx, d.components.CleanupInterval) })
	}

	d.running.Store(true)
	d.logger.Info("avsync server started",
		logging.String("address", d.components.Server.Addr()),
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background work and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.components.Server.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("avsync server stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	st := Status{
		Running:      d.running.Load(),
		Address:      d.components.Server.Addr(),
		LockFilePath: d.lockPath,
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
	if d.components.History != nil {
		st.HistoryPath = d.components.History.Path()
	}
	if d.components.Workflow != nil {
		st.Workflow = d.components.Workflow.Status()
	}
	return st
}

func (d *Daemon) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.CleanupOnce(ctx)
		}
	}
}

// CleanupOnce removes stale session leftovers and prunes old history rows.
func (d *Daemon) CleanupOnce(ctx context.Context) staging.CleanStaleResult {
	maxAge := staging.MaxAge(d.cfg)
	result := staging.CleanStale(ctx, staging.Targets(d.cfg), maxAge, d.logger)
	if d.components.History != nil && d.cfg.Logging.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -d.cfg.Logging.RetentionDays)
		if n, err := d.components.History.PruneBefore(ctx, cutoff); err != nil {
			d.logger.Warn("history prune failed", logging.Error(err))
		} else if n > 0 {
			d.logger.Info("history pruned",
				logging.Int64("sessions", n),
				logging.String(logging.FieldEventType, "history_pruned"),
			)
		}
	}
	return result
}
