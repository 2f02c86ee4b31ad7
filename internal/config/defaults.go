package config

const (
	defaultDataDir   = "~/.local/share/subtran"
	defaultUploadDir = "~/.local/share/subtran/uploads"
	defaultWorkDir   = "~/.local/share/subtran/work"
	defaultOutputDir = "~/.local/share/subtran/outputs"
	defaultLogDir    = "~/.local/share/subtran/logs"
	defaultAPIBind   = "127.0.0.1:9157"

	defaultWhisperBaseURL  = "http://127.0.0.1:9977"
	defaultWhisperModel    = "large-v3"
	defaultWhisperLanguage = "auto"
	defaultWhisperTimeout  = 7200

	defaultOllamaBaseURL  = "http://127.0.0.1:11434"
	defaultOllamaModel    = "qwen2.5:7b"
	defaultTargetLanguage = "zh"
	defaultOllamaTimeout  = 7200
	defaultUnloadTimeout  = 10

	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
	defaultMuxTimeout    = 1800
	defaultSubtitleTitle = "Translated"

	defaultWorkerPollInterval = 5
	defaultRecoveryTimeout    = 60
	defaultStoreOpTimeout     = 30

	defaultSweepInterval         = 600
	defaultDownloadRetentionHrs  = 24
	defaultNeglectRetentionHrs   = 72
	defaultPurgeSettleSeconds    = 320
	defaultCountdownInitialMins  = 30
	defaultCountdownExtendedMins = 15

	defaultInvitesDBPath = "~/.local/share/subtran/invites.db"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			UploadDir: defaultUploadDir,
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Whisper: Whisper{
			BaseURL:        defaultWhisperBaseURL,
			Model:          defaultWhisperModel,
			Language:       defaultWhisperLanguage,
			RequestTimeout: defaultWhisperTimeout,
		},
		Ollama: Ollama{
			BaseURL:        defaultOllamaBaseURL,
			Model:          defaultOllamaModel,
			TargetLanguage: defaultTargetLanguage,
			RequestTimeout: defaultOllamaTimeout,
			UnloadTimeout:  defaultUnloadTimeout,
		},
		FFmpeg: FFmpeg{
			Binary:        defaultFFmpegBinary,
			ProbeBinary:   defaultFFprobeBinary,
			MuxTimeout:    defaultMuxTimeout,
			MuxSubtitles:  true,
			SubtitleTitle: defaultSubtitleTitle,
		},
		Worker: Worker{
			PollInterval:    defaultWorkerPollInterval,
			RecoveryTimeout: defaultRecoveryTimeout,
			StoreOpTimeout:  defaultStoreOpTimeout,
		},
		Sweeper: Sweeper{
			Interval:              defaultSweepInterval,
			DownloadRetentionHrs:  defaultDownloadRetentionHrs,
			NeglectRetentionHrs:   defaultNeglectRetentionHrs,
			PurgeSettleSeconds:    defaultPurgeSettleSeconds,
			CountdownInitialMins:  defaultCountdownInitialMins,
			CountdownExtendedMins: defaultCountdownExtendedMins,
		},
		Invites: Invites{
			Enabled: false,
			DBPath:  defaultInvitesDBPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
