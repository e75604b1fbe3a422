package config

const (
	defaultConfigPath            = "~/.config/avsync/config.toml"
	defaultTempDir               = "~/.local/share/avsync/temp_input"
	defaultFinalOutputDir        = "~/.local/share/avsync/final_output"
	defaultLogDir                = "~/.local/share/avsync/logs"
	defaultFinalLogsDir          = "~/.local/share/avsync/logs/final_logs"
	defaultRunLogsDir            = "~/.local/share/avsync/logs/run_logs"
	defaultUploadDir             = "~/.local/share/avsync/uploads"
	defaultSyncNetBaseDir        = "~/syncnet"
	defaultSyncNetDataDir        = "~/syncnet/syncnet_python/data"
	defaultSyncNetWorkDir        = "~/syncnet/syncnet_python/data/work"
	defaultPipelineModule        = "syncnet_python.run_pipeline"
	defaultDetectorModule        = "syncnet_python.run_syncnet"
	defaultPythonBinary          = "python"
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultMaxIterations         = 10
	defaultVerifyToleranceMS     = 0
	defaultNativeExtension       = ".avi"
	defaultReencodeVideoCodec    = "mpeg4"
	defaultReencodeAudioCodec    = "pcm_s16le"
	defaultPipelineTimeout       = 1800
	defaultDetectorTimeout       = 1800
	defaultFFmpegTimeout         = 900
	defaultFFmpegThreads         = 4
	defaultServerBind            = "127.0.0.1:8000"
	defaultMaxUploadMB           = 2048
	defaultMaxConcurrentSessions = 2
	defaultIOWorkers             = 4
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultStaleAfterHours       = 48
)

var defaultAllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TempDir:        defaultTempDir,
			FinalOutputDir: defaultFinalOutputDir,
			LogDir:         defaultLogDir,
			FinalLogsDir:   defaultFinalLogsDir,
			RunLogsDir:     defaultRunLogsDir,
			UploadDir:      defaultUploadDir,
		},
		SyncNet: SyncNet{
			BaseDir:        defaultSyncNetBaseDir,
			PythonBinary:   defaultPythonBinary,
			DataDir:        defaultSyncNetDataDir,
			WorkDir:        defaultSyncNetWorkDir,
			PipelineModule: defaultPipelineModule,
			DetectorModule: defaultDetectorModule,
		},
		Sync: Sync{
			MaxIterations:      defaultMaxIterations,
			VerifyToleranceMS:  defaultVerifyToleranceMS,
			NativeExtension:    defaultNativeExtension,
			ReencodeVideoCodec: defaultReencodeVideoCodec,
			ReencodeAudioCodec: defaultReencodeAudioCodec,
		},
		Detection: Detection{
			PipelineTimeout: defaultPipelineTimeout,
			DetectorTimeout: defaultDetectorTimeout,
		},
		Media: Media{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			FFmpegTimeout: defaultFFmpegTimeout,
			FFmpegThreads: defaultFFmpegThreads,
		},
		Server: Server{
			Bind:                  defaultServerBind,
			AllowedOrigins:        append([]string(nil), defaultAllowedOrigins...),
			MaxUploadMB:           defaultMaxUploadMB,
			MaxConcurrentSessions: defaultMaxConcurrentSessions,
			IOWorkers:             defaultIOWorkers,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Staging: Staging{
			StaleAfterHours: defaultStaleAfterHours,
		},
	}
}
