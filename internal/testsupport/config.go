package testsupport

import (
	"path/filepath"
	"testing"

	"subtran/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.OutputDir = filepath.Join(base, "outputs")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Invites.DBPath = filepath.Join(base, "data", "invites.db")
	cfg.Worker.PollInterval = 1
	cfg.Worker.StoreOpTimeout = 5

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

// WithStoreOpTimeout overrides the persistence timeout in seconds.
func WithStoreOpTimeout(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Worker.StoreOpTimeout = seconds
	}
}

// WithInvites enables the invite-quota ledger on the test config.
func WithInvites() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Invites.Enabled = true
	}
}
