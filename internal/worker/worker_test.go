package worker_test

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"subtran/internal/artifacts"
	"subtran/internal/config"
	"subtran/internal/logging"
	"subtran/internal/registry"
	"subtran/internal/services/ffmpeg"
	"subtran/internal/store"
	"subtran/internal/subtitles"
	"subtran/internal/testsupport"
	"subtran/internal/worker"
)

type stubTranscriber struct {
	segments []subtitles.Segment
	lines    []string
	err      error
	calls    int
}

func (s *stubTranscriber) Transcribe(ctx context.Context, videoPath string, onLine func(string)) ([]subtitles.Segment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for _, line := range s.lines {
		if onLine != nil {
			onLine(line)
		}
	}
	return s.segments, nil
}

type stubTranslator struct {
	prefix string
	err    error
	calls  int
}

func (s *stubTranslator) Translate(ctx context.Context, lines []string, onProgress func(done, total int)) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = s.prefix + line
		if onProgress != nil {
			onProgress(i+1, len(lines))
		}
	}
	return out, nil
}

type stubMedia struct {
	duration float64
	muxErr   error
	muxCalls int
}

func (s *stubMedia) Probe(ctx context.Context, path string) (float64, error) {
	return s.duration, nil
}

func (s *stubMedia) MuxSubtitles(ctx context.Context, req ffmpeg.MuxRequest) error {
	s.muxCalls++
	if s.muxErr != nil {
		return s.muxErr
	}
	return os.WriteFile(req.OutputPath, []byte("muxed video"), 0o644)
}

type stubArbiter struct {
	calls []string
}

func (s *stubArbiter) PrepareForExtraction(context.Context) error {
	s.calls = append(s.calls, "extraction")
	return nil
}

func (s *stubArbiter) PrepareForTranslation(context.Context) error {
	s.calls = append(s.calls, "translation")
	return nil
}

func (s *stubArbiter) AfterTranslation(context.Context) {
	s.calls = append(s.calls, "after-translation")
}

type stubLedger struct {
	deductions map[string]float64
}

func (s *stubLedger) Deduct(ctx context.Context, code string, seconds float64) (float64, error) {
	if s.deductions == nil {
		s.deductions = make(map[string]float64)
	}
	s.deductions[code] += seconds
	return 1000 - s.deductions[code], nil
}

type fixture struct {
	cfg         *config.Config
	st          *store.Store
	jobs        *registry.Jobs
	batches     *registry.Batches
	layout      artifacts.Layout
	transcriber *stubTranscriber
	translator  *stubTranslator
	media       *stubMedia
	arbiter     *stubArbiter
	ledger      *stubLedger
	worker      *worker.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.FFmpeg.MuxSubtitles = true
	st := testsupport.MustOpenStore(t, cfg)
	jobs := registry.NewJobs(st, logging.NewNop())
	batches := registry.NewBatches(st, logging.NewNop())
	layout := artifacts.NewLayout(cfg)

	f := &fixture{
		cfg:     cfg,
		st:      st,
		jobs:    jobs,
		batches: batches,
		layout:  layout,
		transcriber: &stubTranscriber{
			segments: []subtitles.Segment{
				{Index: 1, Start: 0, End: 2 * time.Second, Text: "hello"},
				{Index: 2, Start: 3 * time.Second, End: 5 * time.Second, Text: "world"},
			},
			lines: []string{"37%|███▋      | 29.7frames/s", "100%|██████████| 30.1frames/s"},
		},
		translator: &stubTranslator{prefix: "译:"},
		media:      &stubMedia{duration: 120},
		arbiter:    &stubArbiter{},
		ledger:     &stubLedger{},
	}
	f.worker = worker.New(cfg, jobs, batches, layout, f.arbiter, f.transcriber, f.translator, f.media, f.ledger, logging.NewNop())
	return f
}

func (f *fixture) seedQueued(t *testing.T, id string) *store.Job {
	t.Helper()
	job := testsupport.SeedJob(t, f.st, id, store.StatusQueued, time.Now().UTC())
	source := f.layout.SourcePath(id, job.Filename)
	testsupport.WriteFileString(t, source, "video bytes")
	testsupport.MutateJob(t, f.st, id, func(j *store.Job) {
		j.SourcePath = source
	})
	job.SourcePath = source
	return job
}

func TestProcessRunsAllStages(t *testing.T) {
	f := newFixture(t)
	job := f.seedQueued(t, "job-1")
	testsupport.MutateJob(t, f.st, "job-1", func(j *store.Job) {
		j.InviteCode = "CODE1"
	})
	job.InviteCode = "CODE1"

	f.worker.Process(context.Background(), job)

	got, err := f.jobs.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusDone {
		t.Fatalf("expected done, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.Progress != 100 {
		t.Fatalf("expected 100%% progress, got %v", got.Progress)
	}
	if got.OutputFilename != "job-1_final.mp4" {
		t.Fatalf("unexpected output filename %q", got.OutputFilename)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}

	if _, err := os.Stat(f.layout.FinalVideoPath("job-1")); err != nil {
		t.Fatalf("final video missing: %v", err)
	}
	data, err := os.ReadFile(f.layout.TranslatedSubtitlePath("job-1"))
	if err != nil {
		t.Fatalf("translated srt missing: %v", err)
	}
	segments, err := subtitles.Parse(string(data))
	if err != nil {
		t.Fatalf("translated srt invalid: %v", err)
	}
	if segments[0].Text != "译:hello" {
		t.Fatalf("unexpected translation %q", segments[0].Text)
	}

	// GPU handoff order: extraction claim, then translation handoff, then
	// the trailing eviction.
	want := []string{"extraction", "translation", "after-translation"}
	if len(f.arbiter.calls) != len(want) {
		t.Fatalf("unexpected arbiter calls %v", f.arbiter.calls)
	}
	for i := range want {
		if f.arbiter.calls[i] != want[i] {
			t.Fatalf("arbiter call %d: got %s want %s", i, f.arbiter.calls[i], want[i])
		}
	}

	// Probed duration was recorded and charged against the invite.
	if got.DurationSeconds != 120 {
		t.Fatalf("expected probed duration, got %v", got.DurationSeconds)
	}
	if f.ledger.deductions["CODE1"] != 120 {
		t.Fatalf("unexpected deduction %v", f.ledger.deductions)
	}
}

func TestProcessFailsAndRemovesSourceOnTranscriptionError(t *testing.T) {
	f := newFixture(t)
	job := f.seedQueued(t, "job-1")
	f.transcriber.err = errors.New("model load failed")

	f.worker.Process(context.Background(), job)

	got, _ := f.jobs.Get(context.Background(), "job-1")
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected recorded error message")
	}
	if _, err := os.Stat(job.SourcePath); !os.IsNotExist(err) {
		t.Fatal("failed job's source upload should be removed")
	}
}

func TestProcessResumesAfterExtraction(t *testing.T) {
	f := newFixture(t)
	job := f.seedQueued(t, "job-1")
	testsupport.MutateJob(t, f.st, "job-1", func(j *store.Job) {
		j.Status = store.StatusTranslating
	})
	job.Status = store.StatusTranslating

	// A valid extraction artifact already exists from the interrupted run.
	raw := f.layout.RawSubtitlePath("job-1")
	testsupport.WriteFileString(t, raw, subtitles.Format([]subtitles.Segment{
		{Index: 1, Start: 0, End: time.Second, Text: "resumed"},
	}))

	f.worker.Process(context.Background(), job)

	if f.transcriber.calls != 0 {
		t.Fatal("extraction must be skipped when its artifact is valid")
	}
	if f.translator.calls != 1 {
		t.Fatalf("translation should run once, ran %d times", f.translator.calls)
	}
	got, _ := f.jobs.Get(context.Background(), "job-1")
	if got.Status != store.StatusDone {
		t.Fatalf("expected done, got %s (%s)", got.Status, got.ErrorMessage)
	}
}

func TestProcessRedoesInvalidArtifact(t *testing.T) {
	f := newFixture(t)
	job := f.seedQueued(t, "job-1")
	testsupport.MutateJob(t, f.st, "job-1", func(j *store.Job) {
		j.Status = store.StatusExtracting
	})
	job.Status = store.StatusExtracting

	// Truncated artifact from the crash: fails validation, stage re-runs.
	testsupport.WriteFileString(t, f.layout.RawSubtitlePath("job-1"), "1\n00:00:00,000 -->")

	f.worker.Process(context.Background(), job)

	if f.transcriber.calls != 1 {
		t.Fatalf("extraction should re-run on invalid artifact, ran %d times", f.transcriber.calls)
	}
	got, _ := f.jobs.Get(context.Background(), "job-1")
	if got.Status != store.StatusDone {
		t.Fatalf("expected done, got %s (%s)", got.Status, got.ErrorMessage)
	}
}

func TestProcessWithoutMuxDeliversSubtitles(t *testing.T) {
	f := newFixture(t)
	f.cfg.FFmpeg.MuxSubtitles = false
	f.worker = worker.New(f.cfg, f.jobs, f.batches, f.layout, f.arbiter, f.transcriber, f.translator, f.media, f.ledger, logging.NewNop())
	job := f.seedQueued(t, "job-1")

	f.worker.Process(context.Background(), job)

	got, _ := f.jobs.Get(context.Background(), "job-1")
	if got.Status != store.StatusDone {
		t.Fatalf("expected done, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.OutputFilename != "job-1_translated.srt" {
		t.Fatalf("unexpected output filename %q", got.OutputFilename)
	}
	if f.media.muxCalls != 0 {
		t.Fatal("mux must not run when disabled")
	}
	// The subtitle deliverable still passes through the output stage.
	if got.CurrentStep != "generating output" {
		t.Fatalf("expected output stage recorded, got step %q", got.CurrentStep)
	}
}

func TestProcessHonorsPerJobMode(t *testing.T) {
	f := newFixture(t)

	srtJob := f.seedQueued(t, "job-srt")
	testsupport.MutateJob(t, f.st, "job-srt", func(j *store.Job) {
		j.Mode = store.ModeSubtitleOnly
	})
	srtJob.Mode = store.ModeSubtitleOnly

	videoJob := f.seedQueued(t, "job-video")
	testsupport.MutateJob(t, f.st, "job-video", func(j *store.Job) {
		j.Mode = store.ModeSubtitleAndVideo
	})
	videoJob.Mode = store.ModeSubtitleAndVideo

	f.worker.Process(context.Background(), srtJob)
	f.worker.Process(context.Background(), videoJob)

	gotSRT, _ := f.jobs.Get(context.Background(), "job-srt")
	if gotSRT.OutputFilename != "job-srt_translated.srt" {
		t.Fatalf("subtitle_only job produced %q", gotSRT.OutputFilename)
	}
	gotVideo, _ := f.jobs.Get(context.Background(), "job-video")
	if gotVideo.OutputFilename != "job-video_final.mp4" {
		t.Fatalf("subtitle_and_video job produced %q", gotVideo.OutputFilename)
	}
	// One daemon serves both modes side by side: exactly one mux ran.
	if f.media.muxCalls != 1 {
		t.Fatalf("expected exactly one mux, got %d", f.media.muxCalls)
	}
}

func TestBatchArchiveBuiltWhenAllMembersTerminal(t *testing.T) {
	f := newFixture(t)
	first := f.seedQueued(t, "job-a")
	second := f.seedQueued(t, "job-b")

	batch, err := f.batches.Create(context.Background(), "pair", []string{"job-a", "job-b"})
	if err != nil {
		t.Fatal(err)
	}
	first.BatchID = batch.ID
	second.BatchID = batch.ID

	f.worker.Process(context.Background(), first)

	mid, _ := f.batches.Get(context.Background(), batch.ID)
	if mid.Status != store.BatchProcessing {
		t.Fatalf("batch must stay processing with a member pending, got %s", mid.Status)
	}
	if mid.ArchiveFilename != "" {
		t.Fatal("archive must not be built before all members are terminal")
	}

	f.worker.Process(context.Background(), second)

	done, _ := f.batches.Get(context.Background(), batch.ID)
	if done.Status != store.BatchDone {
		t.Fatalf("expected batch done, got %s", done.Status)
	}
	if done.ArchiveFilename == "" {
		t.Fatal("expected archive filename recorded")
	}

	reader, err := zip.OpenReader(f.layout.BatchArchivePath(batch.ID))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 2 {
		t.Fatalf("expected 2 archive members, got %d", len(reader.File))
	}
}

func TestBatchPartialFailed(t *testing.T) {
	f := newFixture(t)
	first := f.seedQueued(t, "job-a")
	second := f.seedQueued(t, "job-b")

	batch, err := f.batches.Create(context.Background(), "pair", []string{"job-a", "job-b"})
	if err != nil {
		t.Fatal(err)
	}
	first.BatchID = batch.ID
	second.BatchID = batch.ID

	f.worker.Process(context.Background(), first)

	f.transcriber.err = errors.New("cuda out of memory")
	f.worker.Process(context.Background(), second)

	got, _ := f.batches.Get(context.Background(), batch.ID)
	if got.Status != store.BatchPartialFailed {
		t.Fatalf("expected partial_failed, got %s", got.Status)
	}
	// The archive still collects the successful member's output.
	if got.ArchiveFilename == "" {
		t.Fatal("expected archive with the successful member")
	}
	reader, err := zip.OpenReader(f.layout.BatchArchivePath(batch.ID))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 1 {
		t.Fatalf("expected 1 archive member, got %d", len(reader.File))
	}
}

func TestBatchArchiveWaitsForRunningSiblingsAfterFailure(t *testing.T) {
	f := newFixture(t)
	first := f.seedQueued(t, "job-a")
	second := f.seedQueued(t, "job-b")

	batch, err := f.batches.Create(context.Background(), "pair", []string{"job-a", "job-b"})
	if err != nil {
		t.Fatal(err)
	}
	first.BatchID = batch.ID
	second.BatchID = batch.ID

	// The first member fails while the second is still queued: the batch
	// flips to partial_failed immediately, but no archive yet.
	f.transcriber.err = errors.New("cuda out of memory")
	f.worker.Process(context.Background(), first)

	mid, _ := f.batches.Get(context.Background(), batch.ID)
	if mid.Status != store.BatchPartialFailed {
		t.Fatalf("expected partial_failed with a sibling pending, got %s", mid.Status)
	}
	if mid.ArchiveFilename != "" {
		t.Fatal("archive must wait for the running sibling")
	}

	f.transcriber.err = nil
	f.worker.Process(context.Background(), second)

	done, _ := f.batches.Get(context.Background(), batch.ID)
	if done.Status != store.BatchPartialFailed {
		t.Fatalf("expected partial_failed, got %s", done.Status)
	}
	if done.ArchiveFilename == "" {
		t.Fatal("expected archive once every member is terminal")
	}
	reader, err := zip.OpenReader(f.layout.BatchArchivePath(batch.ID))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 1 {
		t.Fatalf("expected 1 archive member, got %d", len(reader.File))
	}
}

func TestRunPicksOldestEligible(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	testsupport.SeedJob(t, f.st, "job-old", store.StatusQueued, now.Add(-time.Hour))
	testsupport.SeedJob(t, f.st, "job-new", store.StatusQueued, now)
	testsupport.SeedJob(t, f.st, "job-failed", store.StatusFailed, now.Add(-2*time.Hour))

	for _, id := range []string{"job-old", "job-new"} {
		source := f.layout.SourcePath(id, id+".mp4")
		testsupport.WriteFileString(t, source, "video")
		testsupport.MutateJob(t, f.st, id, func(j *store.Job) {
			j.SourcePath = source
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx)
	}()

	deadline := time.After(10 * time.Second)
	for {
		jobs, err := f.jobs.List(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		finished := 0
		for _, job := range jobs {
			if job.Status == store.StatusDone {
				finished++
			}
		}
		if finished == 2 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("worker did not finish both jobs in time")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	<-done

	failed, _ := f.jobs.Get(context.Background(), "job-failed")
	if failed.Status != store.StatusFailed {
		t.Fatalf("failed job must not be picked up, got %s", failed.Status)
	}
}
