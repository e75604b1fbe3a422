package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout shared by the server and CLI.
type Paths struct {
	TempDir        string `toml:"temp_dir"`
	FinalOutputDir string `toml:"final_output_dir"`
	LogDir         string `toml:"log_dir"`
	FinalLogsDir   string `toml:"final_logs_dir"`
	RunLogsDir     string `toml:"run_logs_dir"`
	UploadDir      string `toml:"upload_dir"`
	InboxDir       string `toml:"inbox_dir"`
}

// SyncNet describes where the preprocessing pipeline and detector live.
type SyncNet struct {
	BaseDir        string `toml:"base_dir"`
	PythonBinary   string `toml:"python_binary"`
	DataDir        string `toml:"data_dir"`
	WorkDir        string `toml:"work_dir"`
	PipelineModule string `toml:"pipeline_module"`
	DetectorModule string `toml:"detector_module"`
}

// Sync contains the convergence loop settings.
type Sync struct {
	MaxIterations      int    `toml:"max_iterations"`
	VerifyToleranceMS  int    `toml:"verify_tolerance_ms"`
	NativeExtension    string `toml:"native_extension"`
	ReencodeVideoCodec string `toml:"reencode_video_codec"`
	ReencodeAudioCodec string `toml:"reencode_audio_codec"`
}

// Detection bounds the external pipeline and detector processes.
type Detection struct {
	PipelineTimeout int `toml:"pipeline_timeout"`
	DetectorTimeout int `toml:"detector_timeout"`
}

// Media contains ffmpeg/ffprobe settings.
type Media struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	FFmpegTimeout int    `toml:"ffmpeg_timeout"`
	FFmpegThreads int    `toml:"ffmpeg_threads"`
}

// Server contains HTTP API settings.
type Server struct {
	Bind                  string   `toml:"bind"`
	APIToken              string   `toml:"api_token"`
	AllowedOrigins        []string `toml:"allowed_origins"`
	MaxUploadMB           int      `toml:"max_upload_mb"`
	MaxConcurrentSessions int      `toml:"max_concurrent_sessions"`
	IOWorkers             int      `toml:"io_workers"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Staging controls cleanup of abandoned working files.
type Staging struct {
	StaleAfterHours int `toml:"stale_after_hours"`
}

// Config encapsulates all configuration values for avsync.
//
// Configuration sections by subsystem:
//   - Paths: temp, output, log, upload and inbox directories
//   - SyncNet: location and entry points of the preprocessing pipeline and detector
//   - Sync: iteration budget, verification tolerance, working container
//   - Detection: subprocess timeouts for the pipeline and detector
//   - Media: ffmpeg/ffprobe binaries and limits
//   - Server: HTTP bind address, auth token, CORS origins, concurrency
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
//   - Staging: stale working file cleanup
type Config struct {
	Paths         Paths         `toml:"paths"`
	SyncNet       SyncNet       `toml:"syncnet"`
	Sync          Sync          `toml:"sync"`
	Detection     Detection     `toml:"detection"`
	Media         Media         `toml:"media"`
	Server        Server        `toml:"server"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Staging       Staging       `toml:"staging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("avsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates every directory the sync workflow writes into.
// The inbox directory is only created when the watcher is enabled.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.TempDir,
		c.Paths.FinalOutputDir,
		c.Paths.LogDir,
		c.Paths.FinalLogsDir,
		c.Paths.RunLogsDir,
		c.Paths.UploadDir,
		c.SyncNet.DataDir,
		c.PyaviDir(),
	}
	if strings.TrimSpace(c.Paths.InboxDir) != "" {
		dirs = append(dirs, c.Paths.InboxDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PyaviDir returns the detector directory holding one numbered folder per reference.
func (c *Config) PyaviDir() string {
	if strings.TrimSpace(c.SyncNet.WorkDir) == "" {
		return ""
	}
	return filepath.Join(c.SyncNet.WorkDir, "pyavi")
}

// FFmpegBinary returns the ffmpeg executable used for audio shifts and re-encodes.
func (c *Config) FFmpegBinary() string {
	if value := strings.TrimSpace(c.Media.FFmpegBinary); value != "" {
		return value
	}
	return defaultFFmpegBinary
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	if value := strings.TrimSpace(c.Media.FFprobeBinary); value != "" {
		return value
	}
	return defaultFFprobeBinary
}

// PythonBinary returns the interpreter that hosts the pipeline and detector modules.
func (c *Config) PythonBinary() string {
	if value := strings.TrimSpace(c.SyncNet.PythonBinary); value != "" {
		return value
	}
	return defaultPythonBinary
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
