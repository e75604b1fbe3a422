package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Staging.StaleAfterHours < 0 {
		return errors.New("staging.stale_after_hours must be zero or positive")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxIterations <= 0 {
		return errors.New("sync.max_iterations must be positive")
	}
	if c.Sync.VerifyToleranceMS < 0 {
		return errors.New("sync.verify_tolerance_ms must be zero or positive")
	}
	if len(c.Sync.NativeExtension) < 2 {
		return fmt.Errorf("sync.native_extension %q is not a file extension", c.Sync.NativeExtension)
	}
	return nil
}

func (c *Config) validateDetection() error {
	return ensurePositiveMap(map[string]int{
		"detection.pipeline_timeout": c.Detection.PipelineTimeout,
		"detection.detector_timeout": c.Detection.DetectorTimeout,
	})
}

func (c *Config) validateMedia() error {
	if c.Media.FFmpegTimeout <= 0 {
		return errors.New("media.ffmpeg_timeout must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if err := ensurePositiveMap(map[string]int{
		"server.max_upload_mb":           c.Server.MaxUploadMB,
		"server.max_concurrent_sessions": c.Server.MaxConcurrentSessions,
		"server.io_workers":              c.Server.IOWorkers,
	}); err != nil {
		return err
	}
	for _, origin := range c.Server.AllowedOrigins {
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("server.allowed_origins: invalid origin %q", origin)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", strings.TrimSpace(key))
		}
	}
	return nil
}
