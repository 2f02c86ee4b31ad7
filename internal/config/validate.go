package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		return errors.New("paths.upload_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateBackends() error {
	for key, raw := range map[string]string{
		"whisper.base_url": c.Whisper.BaseURL,
		"ollama.base_url":  c.Ollama.BaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must use http or https, got %q", key, parsed.Scheme)
		}
	}
	return nil
}

func (c *Config) validateTiming() error {
	if err := ensurePositiveMap(map[string]int{
		"whisper.request_timeout":           c.Whisper.RequestTimeout,
		"ollama.request_timeout":            c.Ollama.RequestTimeout,
		"ollama.unload_timeout":             c.Ollama.UnloadTimeout,
		"ffmpeg.mux_timeout":                c.FFmpeg.MuxTimeout,
		"worker.poll_interval":              c.Worker.PollInterval,
		"worker.recovery_timeout":           c.Worker.RecoveryTimeout,
		"worker.store_op_timeout":           c.Worker.StoreOpTimeout,
		"sweeper.interval":                  c.Sweeper.Interval,
		"sweeper.download_retention_hours":  c.Sweeper.DownloadRetentionHrs,
		"sweeper.neglect_retention_hours":   c.Sweeper.NeglectRetentionHrs,
		"sweeper.purge_settle_seconds":      c.Sweeper.PurgeSettleSeconds,
		"sweeper.countdown_initial_minutes": c.Sweeper.CountdownInitialMins,
	}); err != nil {
		return err
	}
	if c.Sweeper.CountdownExtendedMins <= 0 {
		return errors.New("sweeper.countdown_extended_minutes must be positive")
	}
	if c.Sweeper.CountdownExtendedMins >= c.Sweeper.CountdownInitialMins {
		return errors.New("sweeper.countdown_extended_minutes must be less than sweeper.countdown_initial_minutes")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
