package invites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"subtran/internal/config"
	"subtran/internal/logging"
)

var (
	ErrUnknownCode = errors.New("invites: unknown code")
	ErrExpired     = errors.New("invites: code expired")
	ErrExhausted   = errors.New("invites: quota exhausted")
)

// Ledger tracks per-invite processing quota in seconds, backed by SQLite.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS invites (
	code TEXT PRIMARY KEY,
	remaining_seconds REAL NOT NULL DEFAULT 0,
	expires_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Open initializes or connects to the invite database.
func Open(cfg *config.Config, logger *slog.Logger) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("invites: config is required")
	}
	dbPath := cfg.Invites.DBPath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("invites: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("invites: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("invites: apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("invites: init schema: %w", err)
	}

	return &Ledger{
		db:     db,
		path:   dbPath,
		logger: logging.NewComponentLogger(logger, "invites"),
	}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Grant adds quota to a code, creating it when missing. A nil expiry leaves
// any stored expiry untouched (or never-expiring for a new code).
func (l *Ledger) Grant(ctx context.Context, code string, seconds float64, expiresAt *time.Time) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("invites: code is required")
	}
	if seconds < 0 {
		return errors.New("invites: grant must be non-negative")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var expiry any
	if expiresAt != nil {
		expiry = expiresAt.UTC().Format(time.RFC3339)
	}

	return l.execWithRetry(ctx, `
INSERT INTO invites (code, remaining_seconds, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
	remaining_seconds = remaining_seconds + excluded.remaining_seconds,
	expires_at = COALESCE(excluded.expires_at, invites.expires_at),
	updated_at = excluded.updated_at`,
		code, seconds, expiry, now, now)
}

// Validate checks that a code exists, has not expired, and carries at least
// the required quota.
func (l *Ledger) Validate(ctx context.Context, code string, requiredSeconds float64) error {
	remaining, expiresAt, err := l.Remaining(ctx, code)
	if err != nil {
		return err
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		return fmt.Errorf("%w: %s", ErrExpired, code)
	}
	if remaining < requiredSeconds {
		return fmt.Errorf("%w: %s needs %.0fs, has %.0fs", ErrExhausted, code, requiredSeconds, remaining)
	}
	return nil
}

// Deduct subtracts used quota, flooring at zero, and returns the new balance.
func (l *Ledger) Deduct(ctx context.Context, code string, seconds float64) (float64, error) {
	code = strings.TrimSpace(code)
	if seconds < 0 {
		return 0, errors.New("invites: deduction must be non-negative")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	err := l.execWithRetry(ctx, `
UPDATE invites
SET remaining_seconds = MAX(remaining_seconds - ?, 0), updated_at = ?
WHERE code = ?`, seconds, now, code)
	if err != nil {
		return 0, err
	}

	remaining, _, err := l.Remaining(ctx, code)
	if err != nil {
		return 0, err
	}
	l.logger.Info("quota deducted",
		logging.String("code", code),
		logging.Float64("seconds", seconds),
		logging.Float64("remaining", remaining))
	return remaining, nil
}

// Remaining returns the current balance and optional expiry for a code.
func (l *Ledger) Remaining(ctx context.Context, code string) (float64, *time.Time, error) {
	code = strings.TrimSpace(code)
	ctx = ensureContext(ctx)

	var remaining float64
	var expiry sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT remaining_seconds, expires_at FROM invites WHERE code = ?`, code).
		Scan(&remaining, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("invites: query code: %w", err)
	}

	var expiresAt *time.Time
	if expiry.Valid && strings.TrimSpace(expiry.String) != "" {
		parsed, parseErr := time.Parse(time.RFC3339, expiry.String)
		if parseErr != nil {
			return 0, nil, fmt.Errorf("invites: parse expiry for %s: %w", code, parseErr)
		}
		expiresAt = &parsed
	}
	return remaining, expiresAt, nil
}

// Stats reports the number of codes and the total outstanding quota.
func (l *Ledger) Stats(ctx context.Context) (int, float64, error) {
	ctx = ensureContext(ctx)
	var count int
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(remaining_seconds) FROM invites`).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("invites: stats: %w", err)
	}
	return count, total.Float64, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (l *Ledger) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		_, lastErr = l.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
