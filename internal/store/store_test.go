package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"subtran/internal/logging"
	"subtran/internal/store"
	"subtran/internal/testsupport"
)

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	created := time.Now().UTC().Truncate(time.Second)
	err := st.Update(context.Background(), func(doc *store.Document) error {
		doc.SingleTasks["job-1"] = &store.Job{
			ID:        "job-1",
			Filename:  "movie.mp4",
			Status:    store.StatusQueued,
			CreatedAt: created,
			UpdatedAt: created,
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var got *store.Job
	err = reopened.View(context.Background(), func(doc *store.Document) error {
		got = doc.SingleTasks["job-1"].Clone()
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if got == nil {
		t.Fatal("expected job to survive reopen")
	}
	if got.Status != store.StatusQueued || got.Filename != "movie.mp4" {
		t.Fatalf("unexpected job after reopen: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed across reopen: got %v want %v", got.CreatedAt, created)
	}
}

func TestOperationsApplyInSubmissionOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	testsupport.SeedJob(t, st, "job-1", store.StatusQueued, time.Now().UTC())

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := st.Update(context.Background(), func(doc *store.Document) error {
				doc.SingleTasks["job-1"].Progress++
				return nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	var progress float64
	err := st.View(context.Background(), func(doc *store.Document) error {
		progress = doc.SingleTasks["job-1"].Progress
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if progress != workers {
		t.Fatalf("lost updates: got %v want %d", progress, workers)
	}
}

func TestViewObservesEarlierUpdate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	testsupport.SeedJob(t, st, "job-1", store.StatusExtracting, time.Now().UTC())

	var status store.Status
	err := st.View(context.Background(), func(doc *store.Document) error {
		status = doc.SingleTasks["job-1"].Status
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if status != store.StatusExtracting {
		t.Fatalf("view missed earlier update: %s", status)
	}
}

func TestOperationErrorDoesNotPersist(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	boom := errors.New("boom")
	err := st.Update(context.Background(), func(doc *store.Document) error {
		doc.SingleTasks["ghost"] = &store.Job{ID: "ghost", Status: store.StatusQueued}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected operation error, got %v", err)
	}

	err = st.View(context.Background(), func(doc *store.Document) error {
		if _, ok := doc.SingleTasks["ghost"]; ok {
			t.Fatal("failed update must not persist")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestTimeoutWhileConsumerBusy(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStoreOpTimeout(1))
	st := testsupport.MustOpenStore(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = st.Update(context.Background(), func(doc *store.Document) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	// The consumer is parked inside the first operation, so this caller must
	// give up after the persistence timeout.
	start := time.Now()
	err := st.Update(context.Background(), func(doc *store.Document) error { return nil })
	if !errors.Is(err, store.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}
}

func TestContextCancellationUnblocksCaller(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = st.Update(context.Background(), func(doc *store.Document) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := st.Update(ctx, func(doc *store.Document) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := st.Update(context.Background(), func(doc *store.Document) error { return nil })
	if !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCorruptDocumentIsBackedUp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.WriteFile(cfg.StorePath(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt document: %v", err)
	}

	st := testsupport.MustOpenStore(t, cfg)

	err := st.View(context.Background(), func(doc *store.Document) error {
		if len(doc.SingleTasks) != 0 {
			t.Fatalf("expected fresh document, got %d jobs", len(doc.SingleTasks))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	matches, err := filepath.Glob(cfg.StorePath() + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one backup of the corrupt file, got %v", matches)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := store.ParseStatus("downloaded_pending_cleanup"); !ok || status != store.StatusDownloaded {
		t.Fatalf("unexpected parse result: %s %v", status, ok)
	}
	if _, ok := store.ParseStatus("does-not-exist"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
