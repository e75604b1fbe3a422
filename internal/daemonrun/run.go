package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"avsync/internal/config"
	"avsync/internal/daemon"
	"avsync/internal/history"
	"avsync/internal/httpapi"
	"avsync/internal/inbox"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/preflight"
	"avsync/internal/workflow"
)

// Options configures server process runtime behavior.
type Options struct {
	LogLevel      string
	Development   bool
	Diagnostic    bool
	SkipPreflight bool
}

const (
	pointerName     = "avsync.log"
	pidFileName     = "avsync.pid"
	cleanupInterval = time.Hour
)

// Run starts the avsync server and blocks until a signal or ctx cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("avsync-%s.log", runID))
	logHub := logging.NewStreamHub(4096)

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
		Stream:      logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		debugPath := filepath.Join(cfg.Paths.LogDir, "debug", fmt.Sprintf("avsync-%s.log", runID))
		handler, closeDebug, debugErr := logging.NewFileHandler(debugPath, "debug")
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			defer closeDebug()
			logger = logging.TeeLogger(logger, handler)
			logger.Info("diagnostic mode enabled",
				logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
				logging.String("debug_log_path", debugPath),
			)
		}
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", pointerName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "avsync-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "debug"), Pattern: "avsync-*.log"},
		logging.RetentionTarget{Dir: cfg.Paths.RunLogsDir, Pattern: "*.log"},
	)

	if !opts.SkipPreflight {
		results := preflight.RunAll(signalCtx, cfg)
		logPreflight(logger, results)
		if err := preflight.Err(results); err != nil {
			return err
		}
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}
	defer store.Close()

	hub := notifications.NewHub(logger)
	defer hub.Close()
	logHub.AddSink(notifications.NewLogForwarder(hub))

	orchestrator, err := workflow.NewFromConfig(cfg, workflow.Dependencies{
		Logger:   logger,
		Notifier: hub,
		Service:  notifications.NewService(cfg),
		History:  store,
	})
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	server, err := httpapi.New(httpapi.Options{
		Config:    cfg,
		Processor: orchestrator,
		History:   store,
		Hub:       hub,
		Logs:      logHub,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	components := daemon.Components{
		Logger:          logger,
		Server:          server,
		History:         store,
		Workflow:        orchestrator,
		CleanupInterval: cleanupInterval,
	}
	if cfg.Paths.InboxDir != "" {
		components.Inbox = inbox.New(cfg.Paths.InboxDir, orchestrator, inbox.WithLogger(logger))
	}

	d, err := daemon.New(cfg, components)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "server start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check server.bind and that no other instance is running"),
		)
		return err
	}
	defer d.Stop()
	d.CleanupOnce(signalCtx)

	<-signalCtx.Done()
	logger.Info("avsync server shutting down")
	return nil
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		attrs := []logging.Attr{
			logging.String("check", r.Name),
			logging.Bool("passed", r.Passed),
			logging.String(logging.FieldEventType, "preflight_check"),
		}
		if r.Detail != "" {
			attrs = append(attrs, logging.String("detail", r.Detail))
		}
		switch {
		case r.Passed:
			logger.Debug("preflight check", logging.Args(attrs...)...)
		case r.Optional:
			logging.WarnWithContext(logger, "optional preflight check failed", "preflight_optional_failed", attrs...)
		default:
			logger.Error("preflight check failed", logging.Args(attrs...)...)
		}
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, pointerName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
