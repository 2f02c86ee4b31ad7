package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWhisper()
	c.normalizeOllama()
	c.normalizeFFmpeg()
	c.normalizeWorker()
	c.normalizeSweeper()
	if err := c.normalizeInvites(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeWhisper() {
	c.Whisper.BaseURL = strings.TrimRight(strings.TrimSpace(c.Whisper.BaseURL), "/")
	if c.Whisper.BaseURL == "" {
		c.Whisper.BaseURL = defaultWhisperBaseURL
	}
	c.Whisper.Model = strings.TrimSpace(c.Whisper.Model)
	if c.Whisper.Model == "" {
		c.Whisper.Model = defaultWhisperModel
	}
	c.Whisper.Language = strings.ToLower(strings.TrimSpace(c.Whisper.Language))
	if c.Whisper.Language == "" {
		c.Whisper.Language = defaultWhisperLanguage
	}
	if c.Whisper.RequestTimeout <= 0 {
		c.Whisper.RequestTimeout = defaultWhisperTimeout
	}
}

func (c *Config) normalizeOllama() {
	c.Ollama.BaseURL = strings.TrimRight(strings.TrimSpace(c.Ollama.BaseURL), "/")
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = defaultOllamaBaseURL
	}
	c.Ollama.Model = strings.TrimSpace(c.Ollama.Model)
	if c.Ollama.Model == "" {
		c.Ollama.Model = defaultOllamaModel
	}
	c.Ollama.TargetLanguage = strings.ToLower(strings.TrimSpace(c.Ollama.TargetLanguage))
	if c.Ollama.TargetLanguage == "" {
		c.Ollama.TargetLanguage = defaultTargetLanguage
	}
	if c.Ollama.RequestTimeout <= 0 {
		c.Ollama.RequestTimeout = defaultOllamaTimeout
	}
	if c.Ollama.UnloadTimeout <= 0 {
		c.Ollama.UnloadTimeout = defaultUnloadTimeout
	}
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.Binary = strings.TrimSpace(c.FFmpeg.Binary)
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = defaultFFmpegBinary
	}
	c.FFmpeg.ProbeBinary = strings.TrimSpace(c.FFmpeg.ProbeBinary)
	if c.FFmpeg.ProbeBinary == "" {
		c.FFmpeg.ProbeBinary = defaultFFprobeBinary
	}
	if c.FFmpeg.MuxTimeout <= 0 {
		c.FFmpeg.MuxTimeout = defaultMuxTimeout
	}
	c.FFmpeg.SubtitleTitle = strings.TrimSpace(c.FFmpeg.SubtitleTitle)
	if c.FFmpeg.SubtitleTitle == "" {
		c.FFmpeg.SubtitleTitle = defaultSubtitleTitle
	}
}

func (c *Config) normalizeWorker() {
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = defaultWorkerPollInterval
	}
	if c.Worker.RecoveryTimeout <= 0 {
		c.Worker.RecoveryTimeout = defaultRecoveryTimeout
	}
	if c.Worker.StoreOpTimeout <= 0 {
		c.Worker.StoreOpTimeout = defaultStoreOpTimeout
	}
}

func (c *Config) normalizeSweeper() {
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = defaultSweepInterval
	}
	if c.Sweeper.DownloadRetentionHrs <= 0 {
		c.Sweeper.DownloadRetentionHrs = defaultDownloadRetentionHrs
	}
	if c.Sweeper.NeglectRetentionHrs <= 0 {
		c.Sweeper.NeglectRetentionHrs = defaultNeglectRetentionHrs
	}
	if c.Sweeper.PurgeSettleSeconds <= 0 {
		c.Sweeper.PurgeSettleSeconds = defaultPurgeSettleSeconds
	}
	if c.Sweeper.CountdownInitialMins <= 0 {
		c.Sweeper.CountdownInitialMins = defaultCountdownInitialMins
	}
	if c.Sweeper.CountdownExtendedMins <= 0 {
		c.Sweeper.CountdownExtendedMins = defaultCountdownExtendedMins
	}
}

func (c *Config) normalizeInvites() error {
	var err error
	if strings.TrimSpace(c.Invites.DBPath) == "" {
		c.Invites.DBPath = defaultInvitesDBPath
	}
	if c.Invites.DBPath, err = expandPath(c.Invites.DBPath); err != nil {
		return fmt.Errorf("invites.db_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
