package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSyncNet(); err != nil {
		return err
	}
	if err := c.normalizeSync(); err != nil {
		return err
	}
	c.normalizeMedia()
	c.normalizeServer()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.FinalLogsDir) == "" {
		c.Paths.FinalLogsDir = filepath.Join(c.Paths.LogDir, "final_logs")
	}
	if strings.TrimSpace(c.Paths.RunLogsDir) == "" {
		c.Paths.RunLogsDir = filepath.Join(c.Paths.LogDir, "run_logs")
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if strings.TrimSpace(c.Paths.FinalOutputDir) == "" {
		c.Paths.FinalOutputDir = defaultFinalOutputDir
	}
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}

	targets := []struct {
		key   string
		value *string
	}{
		{"paths.temp_dir", &c.Paths.TempDir},
		{"paths.final_output_dir", &c.Paths.FinalOutputDir},
		{"paths.final_logs_dir", &c.Paths.FinalLogsDir},
		{"paths.run_logs_dir", &c.Paths.RunLogsDir},
		{"paths.upload_dir", &c.Paths.UploadDir},
		{"paths.inbox_dir", &c.Paths.InboxDir},
	}
	for _, target := range targets {
		*target.value = strings.TrimSpace(*target.value)
		if *target.value, err = expandPath(*target.value); err != nil {
			return fmt.Errorf("%s: %w", target.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeSyncNet() error {
	if value, ok := os.LookupEnv("AVSYNC_SYNCNET_DIR"); ok && strings.TrimSpace(c.SyncNet.BaseDir) == "" {
		c.SyncNet.BaseDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.SyncNet.BaseDir) == "" {
		c.SyncNet.BaseDir = defaultSyncNetBaseDir
	}
	var err error
	if c.SyncNet.BaseDir, err = expandPath(strings.TrimSpace(c.SyncNet.BaseDir)); err != nil {
		return fmt.Errorf("syncnet.base_dir: %w", err)
	}
	if strings.TrimSpace(c.SyncNet.DataDir) == "" {
		c.SyncNet.DataDir = filepath.Join(c.SyncNet.BaseDir, "syncnet_python", "data")
	}
	if c.SyncNet.DataDir, err = expandPath(strings.TrimSpace(c.SyncNet.DataDir)); err != nil {
		return fmt.Errorf("syncnet.data_dir: %w", err)
	}
	if strings.TrimSpace(c.SyncNet.WorkDir) == "" {
		c.SyncNet.WorkDir = filepath.Join(c.SyncNet.DataDir, "work")
	}
	if c.SyncNet.WorkDir, err = expandPath(strings.TrimSpace(c.SyncNet.WorkDir)); err != nil {
		return fmt.Errorf("syncnet.work_dir: %w", err)
	}
	c.SyncNet.PythonBinary = strings.TrimSpace(c.SyncNet.PythonBinary)
	if c.SyncNet.PythonBinary == "" {
		c.SyncNet.PythonBinary = defaultPythonBinary
	}
	c.SyncNet.PipelineModule = strings.TrimSpace(c.SyncNet.PipelineModule)
	if c.SyncNet.PipelineModule == "" {
		c.SyncNet.PipelineModule = defaultPipelineModule
	}
	c.SyncNet.DetectorModule = strings.TrimSpace(c.SyncNet.DetectorModule)
	if c.SyncNet.DetectorModule == "" {
		c.SyncNet.DetectorModule = defaultDetectorModule
	}
	return nil
}

func (c *Config) normalizeSync() error {
	if value, ok := os.LookupEnv("AVSYNC_MAX_ITERATIONS"); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("AVSYNC_MAX_ITERATIONS: %w", err)
		}
		c.Sync.MaxIterations = parsed
	}
	ext := strings.ToLower(strings.TrimSpace(c.Sync.NativeExtension))
	if ext == "" {
		ext = defaultNativeExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Sync.NativeExtension = ext
	c.Sync.ReencodeVideoCodec = strings.TrimSpace(c.Sync.ReencodeVideoCodec)
	if c.Sync.ReencodeVideoCodec == "" {
		c.Sync.ReencodeVideoCodec = defaultReencodeVideoCodec
	}
	c.Sync.ReencodeAudioCodec = strings.TrimSpace(c.Sync.ReencodeAudioCodec)
	if c.Sync.ReencodeAudioCodec == "" {
		c.Sync.ReencodeAudioCodec = defaultReencodeAudioCodec
	}
	return nil
}

func (c *Config) normalizeMedia() {
	c.Media.FFmpegBinary = strings.TrimSpace(c.Media.FFmpegBinary)
	c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary)
	if c.Media.FFmpegThreads <= 0 {
		c.Media.FFmpegThreads = defaultFFmpegThreads
	}
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("AVSYNC_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
	origins := make([]string, 0, len(c.Server.AllowedOrigins))
	for _, origin := range c.Server.AllowedOrigins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Server.AllowedOrigins = origins
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("AVSYNC_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
