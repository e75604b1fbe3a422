package detection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/procexec"
	"avsync/internal/services"
)

// FormatReference renders a reference number the way the SyncNet tools expect.
func FormatReference(ref int) string {
	return fmt.Sprintf("%05d", ref)
}

// Settings locates the SyncNet tools.
type Settings struct {
	Python          string
	BaseDir         string
	WorkDir         string
	PipelineModule  string
	DetectorModule  string
	PipelineTimeout time.Duration
	DetectorTimeout time.Duration
	// PipelineLogDir receives pipeline_{ref}.log files; empty discards pipeline output.
	PipelineLogDir string
}

// SettingsFromConfig derives Settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Python:          cfg.PythonBinary(),
		BaseDir:         cfg.SyncNet.BaseDir,
		WorkDir:         cfg.SyncNet.WorkDir,
		PipelineModule:  cfg.SyncNet.PipelineModule,
		DetectorModule:  cfg.SyncNet.DetectorModule,
		PipelineTimeout: time.Duration(cfg.Detection.PipelineTimeout) * time.Second,
		DetectorTimeout: time.Duration(cfg.Detection.DetectorTimeout) * time.Second,
		PipelineLogDir:  cfg.Paths.RunLogsDir,
	}
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec procexec.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "detection")
	}
}

// Client runs the preprocessing pipeline and the offset detector.
type Client struct {
	settings Settings
	exec     procexec.Executor
	logger   *slog.Logger
	pipeline *procexec.Runner
	detector *procexec.Runner
}

// New constructs a detection client.
func New(settings Settings, opts ...Option) (*Client, error) {
	if strings.TrimSpace(settings.Python) == "" {
		return nil, errors.New("python binary required")
	}
	if strings.TrimSpace(settings.WorkDir) == "" {
		return nil, errors.New("detector work directory required")
	}
	if settings.PipelineModule == "" || settings.DetectorModule == "" {
		return nil, errors.New("pipeline and detector modules required")
	}
	c := &Client{
		settings: settings,
		exec:     procexec.ProcessExecutor{},
		logger:   logging.NewComponentLogger(nil, "detection"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pipeline = procexec.NewRunner(settings.PipelineTimeout, procexec.WithExecutor(c.exec))
	c.detector = procexec.NewRunner(settings.DetectorTimeout, procexec.WithExecutor(c.exec))
	return c, nil
}

// RunPreprocessing runs the face-tracking pipeline for videoFile under ref.
func (c *Client) RunPreprocessing(ctx context.Context, videoFile string, ref int) error {
	refStr := FormatReference(ref)
	cmd := procexec.Command{
		Binary: c.settings.Python,
		Args:   []string{"-m", c.settings.PipelineModule, "--videofile", videoFile, "--reference", refStr},
		Dir:    c.settings.BaseDir,
	}
	logPath := ""
	if dir := strings.TrimSpace(c.settings.PipelineLogDir); dir != "" {
		logPath = filepath.Join(dir, fmt.Sprintf("pipeline_%s.log", refStr))
	}

	started := time.Now()
	c.logger.Info("preprocessing started",
		logging.Int(logging.FieldReference, ref),
		logging.String("video_file", videoFile),
		logging.String(logging.FieldEventType, "pipeline_start"),
	)
	if err := c.runCaptured(ctx, c.pipeline, cmd, logPath); err != nil {
		return c.failure(err, "run pipeline", refStr)
	}
	c.logger.Info("preprocessing completed",
		logging.Int(logging.FieldReference, ref),
		logging.Duration("duration", time.Since(started)),
		logging.String(logging.FieldEventType, "pipeline_complete"),
	)
	return nil
}

// RunDetector runs the offset detector for ref and writes its combined output
// to logPath, which is returned.
func (c *Client) RunDetector(ctx context.Context, ref int, logPath string) (string, error) {
	if strings.TrimSpace(logPath) == "" {
		return "", errors.New("detector log path required")
	}
	refStr := FormatReference(ref)
	cmd := procexec.Command{
		Binary: c.settings.Python,
		Args:   []string{"-m", c.settings.DetectorModule, "--data_dir", c.settings.WorkDir, "--reference", refStr},
		Dir:    c.settings.BaseDir,
	}

	started := time.Now()
	c.logger.Info("detector started",
		logging.Int(logging.FieldReference, ref),
		logging.String("log_file", logPath),
		logging.String(logging.FieldEventType, "detector_start"),
	)
	if err := c.runCaptured(ctx, c.detector, cmd, logPath); err != nil {
		return logPath, c.failure(err, "run detector", refStr)
	}
	c.logger.Info("detector completed",
		logging.Int(logging.FieldReference, ref),
		logging.Duration("duration", time.Since(started)),
		logging.String(logging.FieldEventType, "detector_complete"),
	)
	return logPath, nil
}

// runCaptured runs cmd, copying its output to logPath when set. A log that
// could not be written fully is an error, since offsets are parsed from it.
func (c *Client) runCaptured(ctx context.Context, runner *procexec.Runner, cmd procexec.Command, logPath string) error {
	if logPath == "" {
		return runner.Run(ctx, cmd, func(string) {})
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	// bufio.Writer keeps the first write error and reports it from Flush.
	writer := bufio.NewWriter(file)
	runErr := runner.Run(ctx, cmd, func(line string) {
		_, _ = writer.WriteString(line)
		_ = writer.WriteByte('\n')
	})
	flushErr := writer.Flush()
	closeErr := file.Close()
	switch {
	case runErr != nil:
		return runErr
	case flushErr != nil:
		return fmt.Errorf("write log file %s: %w", logPath, flushErr)
	case closeErr != nil:
		return fmt.Errorf("close log file %s: %w", logPath, closeErr)
	}
	return nil
}

func (c *Client) failure(err error, operation, refStr string) error {
	marker := services.ErrPipelineFailure
	if procexec.IsTimeout(err) {
		marker = services.ErrTimeout
	}
	wrapped := services.Wrap(marker, "detection", operation, "reference "+refStr, err)
	logging.ErrorWithContext(c.logger, "syncnet tool failed", "detection_failed",
		logging.String("operation", operation),
		logging.String("reference", refStr),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the tool log in the run_logs and final_logs directories"),
	)
	return wrapped
}
