package testsupport

import (
	"context"
	"testing"
	"time"

	"subtran/internal/config"
	"subtran/internal/logging"
	"subtran/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// SeedJob inserts a job with the given id and status directly into the document.
func SeedJob(t testing.TB, st *store.Store, id string, status store.Status, createdAt time.Time) *store.Job {
	t.Helper()

	job := &store.Job{
		ID:        id,
		Filename:  id + ".mp4",
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	err := st.Update(context.Background(), func(doc *store.Document) error {
		doc.SingleTasks[job.ID] = job.Clone()
		return nil
	})
	if err != nil {
		t.Fatalf("seed job %s: %v", id, err)
	}
	return job
}

// MutateJob applies an in-place edit to a seeded job.
func MutateJob(t testing.TB, st *store.Store, id string, fn func(*store.Job)) {
	t.Helper()

	err := st.Update(context.Background(), func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			t.Fatalf("mutate job %s: not found", id)
		}
		fn(job)
		return nil
	})
	if err != nil {
		t.Fatalf("mutate job %s: %v", id, err)
	}
}
