package invites_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"subtran/internal/invites"
	"subtran/internal/logging"
	"subtran/internal/testsupport"
)

func openLedger(t *testing.T) *invites.Ledger {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithInvites())
	ledger, err := invites.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("invites.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = ledger.Close()
	})
	return ledger
}

func TestGrantValidateDeduct(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	if err := ledger.Grant(ctx, "alpha", 3600, nil); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := ledger.Validate(ctx, "alpha", 1800); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	remaining, err := ledger.Deduct(ctx, "alpha", 1200)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if remaining != 2400 {
		t.Fatalf("expected 2400 remaining, got %v", remaining)
	}

	// Deduction floors at zero.
	remaining, err = ledger.Deduct(ctx, "alpha", 99999)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected floor at 0, got %v", remaining)
	}

	if err := ledger.Validate(ctx, "alpha", 1); !errors.Is(err, invites.ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestGrantAccumulates(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	if err := ledger.Grant(ctx, "beta", 100, nil); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := ledger.Grant(ctx, "beta", 50, nil); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	remaining, _, err := ledger.Remaining(ctx, "beta")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 150 {
		t.Fatalf("expected 150, got %v", remaining)
	}
}

func TestValidateUnknownCode(t *testing.T) {
	ledger := openLedger(t)
	if err := ledger.Validate(context.Background(), "ghost", 1); !errors.Is(err, invites.ErrUnknownCode) {
		t.Fatalf("expected unknown code, got %v", err)
	}
}

func TestValidateExpiredCode(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	if err := ledger.Grant(ctx, "stale", 3600, &past); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := ledger.Validate(ctx, "stale", 1); !errors.Is(err, invites.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	if err := ledger.Grant(ctx, "a", 10, nil); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := ledger.Grant(ctx, "b", 20, nil); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	count, total, err := ledger.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 2 || total != 30 {
		t.Fatalf("unexpected stats: count=%d total=%v", count, total)
	}
}
