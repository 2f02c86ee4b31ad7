package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"subtran/internal/logging"
	"subtran/internal/registry"
	"subtran/internal/services"
	"subtran/internal/store"
	"subtran/internal/testsupport"
)

func newRegistries(t *testing.T) (*registry.Jobs, *registry.Batches) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return registry.NewJobs(st, logging.NewNop()), registry.NewBatches(st, logging.NewNop())
}

func TestCreateAndGet(t *testing.T) {
	jobs, _ := newRegistries(t)
	ctx := context.Background()

	created, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4", SourcePath: "/tmp/movie.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Status != store.StatusQueued {
		t.Fatalf("expected queued, got %s", created.Status)
	}

	got, err := jobs.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Filename != "movie.mp4" {
		t.Fatalf("unexpected filename %q", got.Filename)
	}
}

func TestCreateModeDefaultsAndValidates(t *testing.T) {
	jobs, _ := newRegistries(t)
	ctx := context.Background()

	plain, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if plain.Mode != store.ModeSubtitleOnly {
		t.Fatalf("expected subtitle_only default, got %q", plain.Mode)
	}

	muxed, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4", Mode: store.ModeSubtitleAndVideo})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if muxed.Mode != store.ModeSubtitleAndVideo {
		t.Fatalf("expected subtitle_and_video, got %q", muxed.Mode)
	}

	if _, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4", Mode: "karaoke"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown mode, got %v", err)
	}
}

func TestCreateRequiresFilename(t *testing.T) {
	jobs, _ := newRegistries(t)
	if _, err := jobs.Create(context.Background(), registry.NewJob{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetUnknownJob(t *testing.T) {
	jobs, _ := newRegistries(t)
	if _, err := jobs.Get(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateStatusLeavesUnsetFieldsUnchanged(t *testing.T) {
	jobs, _ := newRegistries(t)
	ctx := context.Background()

	created, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{
		Status: store.StatusExtracting,
		Error:  registry.SetError("transient hiccup"),
	}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// Progress-only update must not touch status or error message.
	progress := 12.0
	updated, err := jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{Progress: &progress})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != store.StatusExtracting {
		t.Fatalf("status changed unexpectedly: %s", updated.Status)
	}
	if updated.ErrorMessage != "transient hiccup" {
		t.Fatalf("error message changed unexpectedly: %q", updated.ErrorMessage)
	}
	if updated.Progress != 12 {
		t.Fatalf("progress not applied: %v", updated.Progress)
	}

	// KeepError is the default; ClearError must be explicit.
	updated, err = jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{
		Status: store.StatusTranslating,
		Error:  registry.KeepError(),
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.ErrorMessage != "transient hiccup" {
		t.Fatalf("KeepError cleared the message: %q", updated.ErrorMessage)
	}

	updated, err = jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{Error: registry.ClearError()})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.ErrorMessage != "" {
		t.Fatalf("ClearError did not clear: %q", updated.ErrorMessage)
	}
	if updated.Status != store.StatusTranslating {
		t.Fatalf("clear-only update changed status: %s", updated.Status)
	}
}

func TestUpdateStatusStepAndProgressTextFields(t *testing.T) {
	jobs, _ := newRegistries(t)
	ctx := context.Background()

	created, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	step := "extracting subtitles"
	text := "37% extracted"
	resumable := true
	updated, err := jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{
		Status:       store.StatusExtracting,
		CurrentStep:  &step,
		ProgressText: &text,
		Resumable:    &resumable,
		ResumeData:   map[string]string{"stage": "extracting"},
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.CurrentStep != step || updated.ProgressText != text {
		t.Fatalf("step fields not applied: %q / %q", updated.CurrentStep, updated.ProgressText)
	}
	if !updated.Resumable || updated.ResumeData["stage"] != "extracting" {
		t.Fatalf("resume fields not applied: %+v", updated)
	}

	// A status-only update leaves all of them alone.
	updated, err = jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{Status: store.StatusTranslating})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.CurrentStep != step || updated.ProgressText != text || !updated.Resumable {
		t.Fatalf("unset fields must stay unchanged: %+v", updated)
	}

	// Explicit empty values clear; an empty non-nil map clears resume data.
	empty := ""
	updated, err = jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{
		ProgressText: &empty,
		ResumeData:   map[string]string{},
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.ProgressText != "" {
		t.Fatalf("expected cleared progress text, got %q", updated.ProgressText)
	}
	if updated.ResumeData != nil {
		t.Fatalf("expected cleared resume data, got %v", updated.ResumeData)
	}
	if updated.CurrentStep != step {
		t.Fatalf("current step must survive an unrelated clear: %q", updated.CurrentStep)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	jobs, _ := newRegistries(t)
	ctx := context.Background()

	created, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := jobs.UpdateStatus(ctx, created.ID, registry.StatusUpdate{Status: "sideways"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateProgressClampsAndRounds(t *testing.T) {
	jobs, _ := newRegistries(t)
	ctx := context.Background()

	created, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cases := []struct {
		in   float64
		want float64
	}{
		{-5, 0},
		{150, 100},
		{33.333, 33.3},
		{66.66, 66.7},
		{100, 100},
	}
	for _, tc := range cases {
		if err := jobs.UpdateProgress(ctx, created.ID, tc.in); err != nil {
			t.Fatalf("UpdateProgress(%v): %v", tc.in, err)
		}
		got, err := jobs.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Progress != tc.want {
			t.Fatalf("progress %v: got %v want %v", tc.in, got.Progress, tc.want)
		}
	}
}

func TestGetIncompleteIncludesFailedSortedByCreation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	jobs := registry.NewJobs(st, logging.NewNop())
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	testsupport.SeedJob(t, st, "c-newest", store.StatusQueued, base.Add(30*time.Minute))
	testsupport.SeedJob(t, st, "a-oldest", store.StatusTranslating, base)
	testsupport.SeedJob(t, st, "b-failed", store.StatusFailed, base.Add(10*time.Minute))
	testsupport.SeedJob(t, st, "z-done", store.StatusDone, base.Add(5*time.Minute))
	testsupport.SeedJob(t, st, "z-downloaded", store.StatusDownloaded, base)
	testsupport.SeedJob(t, st, "z-expired", store.StatusExpired, base)

	incomplete, err := jobs.GetIncomplete(ctx)
	if err != nil {
		t.Fatalf("GetIncomplete: %v", err)
	}
	if len(incomplete) != 3 {
		t.Fatalf("expected 3 incomplete jobs, got %d", len(incomplete))
	}
	wantOrder := []string{"a-oldest", "b-failed", "c-newest"}
	for i, want := range wantOrder {
		if incomplete[i].ID != want {
			t.Fatalf("position %d: got %s want %s", i, incomplete[i].ID, want)
		}
	}
}

func TestMarkDownloadedStampsOnce(t *testing.T) {
	jobs, _ := newRegistries(t)
	ctx := context.Background()

	created, err := jobs.Create(ctx, registry.NewJob{Filename: "movie.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := jobs.MarkDownloaded(ctx, created.ID)
	if err != nil {
		t.Fatalf("MarkDownloaded: %v", err)
	}
	if first.Status != store.StatusDownloaded {
		t.Fatalf("expected downloaded status, got %s", first.Status)
	}
	if first.DownloadedAt == nil {
		t.Fatal("expected downloaded_at to be set")
	}

	second, err := jobs.MarkDownloaded(ctx, created.ID)
	if err != nil {
		t.Fatalf("MarkDownloaded: %v", err)
	}
	if !second.DownloadedAt.Equal(*first.DownloadedAt) {
		t.Fatalf("downloaded_at must not move on repeat: %v vs %v", second.DownloadedAt, first.DownloadedAt)
	}
}

func TestDeleteDetachesFromBatchAndRemovesEmptyBatch(t *testing.T) {
	jobs, batches := newRegistries(t)
	ctx := context.Background()

	a, err := jobs.Create(ctx, registry.NewJob{Filename: "a.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := jobs.Create(ctx, registry.NewJob{Filename: "b.mp4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	batch, err := batches.Create(ctx, "pair", []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("batches.Create: %v", err)
	}

	if err := jobs.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := batches.Get(ctx, batch.ID)
	if err != nil {
		t.Fatalf("batches.Get: %v", err)
	}
	if len(got.JobIDs) != 1 || got.JobIDs[0] != b.ID {
		t.Fatalf("expected batch to keep only %s, got %v", b.ID, got.JobIDs)
	}

	if err := jobs.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := batches.Get(ctx, batch.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected empty batch to be removed, got %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	jobs := registry.NewJobs(st, logging.NewNop())

	now := time.Now().UTC()
	testsupport.SeedJob(t, st, "q1", store.StatusQueued, now)
	testsupport.SeedJob(t, st, "q2", store.StatusQueued, now)
	testsupport.SeedJob(t, st, "f1", store.StatusFailed, now)

	counts, err := jobs.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[store.StatusQueued] != 2 || counts[store.StatusFailed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
