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

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	UploadDir string `toml:"upload_dir"`
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
}

// Whisper contains configuration for the transcription sidecar.
type Whisper struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Ollama contains configuration for the translation backend.
type Ollama struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TargetLanguage string `toml:"target_language"`
	RequestTimeout int    `toml:"request_timeout"`
	UnloadTimeout  int    `toml:"unload_timeout"`
}

// FFmpeg contains configuration for media probing and subtitle muxing.
type FFmpeg struct {
	Binary        string `toml:"binary"`
	ProbeBinary   string `toml:"probe_binary"`
	MuxTimeout    int    `toml:"mux_timeout"`
	MuxSubtitles  bool   `toml:"mux_subtitles"`
	SubtitleTitle string `toml:"subtitle_title"`
}

// Worker contains configuration for job execution timing.
type Worker struct {
	PollInterval    int `toml:"poll_interval"`
	RecoveryTimeout int `toml:"recovery_timeout"`
	StoreOpTimeout  int `toml:"store_op_timeout"`
}

// Sweeper contains configuration for artifact lifecycle cleanup.
type Sweeper struct {
	Interval              int `toml:"interval"`
	DownloadRetentionHrs  int `toml:"download_retention_hours"`
	NeglectRetentionHrs   int `toml:"neglect_retention_hours"`
	PurgeSettleSeconds    int `toml:"purge_settle_seconds"`
	CountdownInitialMins  int `toml:"countdown_initial_minutes"`
	CountdownExtendedMins int `toml:"countdown_extended_minutes"`
}

// Invites contains configuration for the invite-quota ledger.
type Invites struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for subtran.
//
// Configuration sections by subsystem:
//   - Paths: data/upload/work/output/log directories and API bind address
//   - Whisper: transcription sidecar connection settings
//   - Ollama: translation backend connection settings
//   - FFmpeg: probing and subtitle muxing settings
//   - Worker: poll interval, recovery and store timeouts
//   - Sweeper: retention windows and download countdown timing
//   - Invites: invite-quota ledger location
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Whisper Whisper `toml:"whisper"`
	Ollama  Ollama  `toml:"ollama"`
	FFmpeg  FFmpeg  `toml:"ffmpeg"`
	Worker  Worker  `toml:"worker"`
	Sweeper Sweeper `toml:"sweeper"`
	Invites Invites `toml:"invites"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/subtran/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
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

	defaultPath, err := expandPath("~/.config/subtran/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("subtran.toml")
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.UploadDir,
		c.Paths.WorkDir,
		c.Paths.OutputDir,
		c.Paths.LogDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Invites.Enabled {
		if err := os.MkdirAll(filepath.Dir(c.Invites.DBPath), 0o755); err != nil {
			return fmt.Errorf("create invites directory: %w", err)
		}
	}
	return nil
}

// StorePath returns the location of the persistent job document.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "tasks.json")
}

// LockPath returns the location of the daemon instance lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "subtrand.lock")
}

// DaemonLogPath returns the location of the daemon log file.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.Paths.LogDir, "subtran.log")
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
