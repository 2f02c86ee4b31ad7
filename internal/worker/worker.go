// Package worker drives jobs through the pipeline one at a time: the oldest
// eligible job is claimed, each stage records a durable status transition
// before it runs, and each stage checks for a valid artifact first so a
// restarted daemon resumes instead of redoing finished work.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"subtran/internal/artifacts"
	"subtran/internal/config"
	"subtran/internal/fileutil"
	"subtran/internal/logging"
	"subtran/internal/progress"
	"subtran/internal/registry"
	"subtran/internal/services/ffmpeg"
	"subtran/internal/store"
	"subtran/internal/subtitles"
)

// Transcriber produces timed segments from a video file, streaming raw
// progress lines as it runs.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string, onLine func(string)) ([]subtitles.Segment, error)
}

// Translator translates subtitle lines, reporting (done, total) after each.
type Translator interface {
	Translate(ctx context.Context, lines []string, onProgress func(done, total int)) ([]string, error)
}

// MediaTool probes durations and muxes subtitle tracks.
type MediaTool interface {
	Probe(ctx context.Context, path string) (float64, error)
	MuxSubtitles(ctx context.Context, req ffmpeg.MuxRequest) error
}

// GPUArbiter coordinates model residency around the two GPU-heavy stages.
type GPUArbiter interface {
	PrepareForExtraction(ctx context.Context) error
	PrepareForTranslation(ctx context.Context) error
	AfterTranslation(ctx context.Context)
}

// QuotaLedger charges processed duration against an invite code. A nil
// ledger disables quota accounting.
type QuotaLedger interface {
	Deduct(ctx context.Context, code string, seconds float64) (float64, error)
}

// eligible is the set of statuses the worker will pick up. In-flight stages
// are included so interrupted jobs resume after a restart.
var eligible = map[store.Status]bool{
	store.StatusQueued:           true,
	store.StatusExtracting:       true,
	store.StatusTranslating:      true,
	store.StatusGeneratingOutput: true,
}

// Worker runs the pipeline.
type Worker struct {
	jobs    *registry.Jobs
	batches *registry.Batches
	layout  artifacts.Layout
	arbiter GPUArbiter
	whisper Transcriber
	ollama  Translator
	media   MediaTool
	ledger  QuotaLedger
	logger  *slog.Logger

	pollInterval   time.Duration
	defaultMode    store.Mode
	targetLanguage string
}

// New assembles a worker.
func New(cfg *config.Config, jobs *registry.Jobs, batches *registry.Batches, layout artifacts.Layout,
	arbiter GPUArbiter, whisper Transcriber, ollama Translator, media MediaTool,
	ledger QuotaLedger, logger *slog.Logger) *Worker {
	return &Worker{
		jobs:           jobs,
		batches:        batches,
		layout:         layout,
		arbiter:        arbiter,
		whisper:        whisper,
		ollama:         ollama,
		media:          media,
		ledger:         ledger,
		logger:         logging.NewComponentLogger(logger, "worker"),
		pollInterval:   time.Duration(cfg.Worker.PollInterval) * time.Second,
		defaultMode:    defaultMode(cfg),
		targetLanguage: cfg.Ollama.TargetLanguage,
	}
}

// defaultMode is the mode applied to jobs that predate per-job modes.
func defaultMode(cfg *config.Config) store.Mode {
	if cfg.FFmpeg.MuxSubtitles {
		return store.ModeSubtitleAndVideo
	}
	return store.ModeSubtitleOnly
}

// jobMode resolves the effective mode for one job.
func (w *Worker) jobMode(job *store.Job) store.Mode {
	if mode, ok := store.ParseMode(string(job.Mode)); ok {
		return mode
	}
	return w.defaultMode
}

// Run claims and processes jobs until the context ends. One job is in flight
// at any time.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.next(ctx)
		if err != nil {
			w.logger.Error("could not scan for work", logging.Error(err))
		}
		if job != nil {
			w.Process(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Worker) next(ctx context.Context) (*store.Job, error) {
	if ctx.Err() != nil {
		return nil, nil
	}
	incomplete, err := w.jobs.GetIncomplete(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range incomplete {
		if eligible[job.Status] {
			return job, nil
		}
	}
	return nil, nil
}

// Process runs one job through all remaining stages.
func (w *Worker) Process(ctx context.Context, job *store.Job) {
	logger := w.logger.With(logging.String(logging.FieldJobID, job.ID))
	logger.Info("processing job",
		logging.String(logging.FieldFilename, job.Filename),
		logging.String(logging.FieldStatus, string(job.Status)))

	if _, err := os.Stat(job.SourcePath); err != nil {
		w.fail(ctx, job, "source file missing")
		return
	}

	tracker := progress.NewTracker(w.jobs, w.logger, job.ID)
	if err := w.ensureDuration(ctx, job); err != nil {
		w.fail(ctx, job, "could not probe media duration: "+err.Error())
		return
	}

	if err := w.runExtraction(ctx, job, tracker); err != nil {
		w.fail(ctx, job, err.Error())
		return
	}
	if err := w.runTranslation(ctx, job, tracker); err != nil {
		w.fail(ctx, job, err.Error())
		return
	}
	outputFilename, err := w.runOutput(ctx, job)
	if err != nil {
		w.fail(ctx, job, err.Error())
		return
	}

	hundred := 100.0
	if _, err := w.jobs.UpdateStatus(ctx, job.ID, registry.StatusUpdate{
		Status:         store.StatusDone,
		Progress:       &hundred,
		Error:          registry.ClearError(),
		OutputFilename: outputFilename,
	}); err != nil {
		logger.Error("could not mark job done", logging.Error(err))
		return
	}
	logger.Info("job done", logging.String("output", outputFilename))

	w.deductQuota(ctx, job)
	w.checkBatchCompletion(ctx, job.BatchID)
}

// ensureDuration probes and records the media duration when intake did not.
func (w *Worker) ensureDuration(ctx context.Context, job *store.Job) error {
	if job.DurationSeconds > 0 {
		return nil
	}
	duration, err := w.media.Probe(ctx, job.SourcePath)
	if err != nil {
		return err
	}
	job.DurationSeconds = duration
	return w.jobs.SetDuration(ctx, job.ID, duration)
}

func (w *Worker) runExtraction(ctx context.Context, job *store.Job, tracker *progress.Tracker) error {
	raw := w.layout.RawSubtitlePath(job.ID)
	if subtitles.Check(raw) == nil {
		// Valid artifact from a previous run; the stage already finished.
		tracker.MarkExtractionDone(ctx)
		return nil
	}

	if err := w.enterStage(ctx, job.ID, store.StatusExtracting, "extracting subtitles"); err != nil {
		return err
	}
	if err := w.arbiter.PrepareForExtraction(ctx); err != nil {
		return err
	}

	segments, err := w.whisper.Transcribe(ctx, job.SourcePath, func(line string) {
		tracker.HandleExtractionLine(ctx, line)
	})
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errors.New("transcription produced no segments")
	}

	if err := os.MkdirAll(w.layout.WorkDir(job.ID), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(raw, []byte(subtitles.Format(segments)), 0o644); err != nil {
		return err
	}
	tracker.MarkExtractionDone(ctx)
	return nil
}

func (w *Worker) runTranslation(ctx context.Context, job *store.Job, tracker *progress.Tracker) error {
	translated := w.layout.TranslatedSubtitlePath(job.ID)
	if subtitles.Check(translated) == nil {
		return nil
	}

	if err := w.enterStage(ctx, job.ID, store.StatusTranslating, "translating subtitles"); err != nil {
		return err
	}
	if err := w.arbiter.PrepareForTranslation(ctx); err != nil {
		return err
	}
	defer w.arbiter.AfterTranslation(ctx)

	data, err := os.ReadFile(w.layout.RawSubtitlePath(job.ID))
	if err != nil {
		return err
	}
	segments, err := subtitles.Parse(string(data))
	if err != nil {
		return err
	}

	lines := make([]string, len(segments))
	for i, segment := range segments {
		lines[i] = segment.Text
	}
	translatedLines, err := w.ollama.Translate(ctx, lines, func(done, total int) {
		tracker.SetTranslationCount(ctx, done, total)
	})
	if err != nil {
		return err
	}
	if len(translatedLines) != len(segments) {
		return errors.New("translation line count mismatch")
	}
	for i := range segments {
		segments[i].Text = translatedLines[i]
	}

	return os.WriteFile(translated, []byte(subtitles.Format(segments)), 0o644)
}

// runOutput produces the deliverable and returns its recorded filename. In
// subtitle_and_video mode that is a subtitle-embedded copy of the source
// video; in subtitle_only mode the translated SRT itself is the deliverable.
// Both forms pass through the generating_output stage.
func (w *Worker) runOutput(ctx context.Context, job *store.Job) (string, error) {
	mode := w.jobMode(job)
	final := w.layout.FinalVideoPath(job.ID)
	if mode == store.ModeSubtitleAndVideo {
		if _, err := os.Stat(final); err == nil {
			// Muxed output from a previous run; the stage already finished.
			return artifacts.FinalVideoName(job.ID), nil
		}
	}

	if err := w.enterStage(ctx, job.ID, store.StatusGeneratingOutput, "generating output"); err != nil {
		return "", err
	}
	if mode != store.ModeSubtitleAndVideo {
		return artifacts.TranslatedSubtitleName(job.ID), nil
	}

	err := w.media.MuxSubtitles(ctx, ffmpeg.MuxRequest{
		VideoPath:    job.SourcePath,
		SubtitlePath: w.layout.TranslatedSubtitlePath(job.ID),
		OutputPath:   final,
		Language:     w.targetLanguage,
	})
	if err != nil {
		return "", err
	}
	return artifacts.FinalVideoName(job.ID), nil
}

// enterStage durably records the stage transition before the stage runs.
func (w *Worker) enterStage(ctx context.Context, jobID string, status store.Status, step string) error {
	_, err := w.jobs.UpdateStatus(ctx, jobID, registry.StatusUpdate{
		Status:      status,
		CurrentStep: &step,
	})
	return err
}

// fail marks the job failed, records the message, and removes the uploaded
// source so failed uploads do not accumulate.
func (w *Worker) fail(ctx context.Context, job *store.Job, message string) {
	w.logger.Error("job failed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("reason", message))

	if _, err := w.jobs.UpdateStatus(ctx, job.ID, registry.StatusUpdate{
		Status: store.StatusFailed,
		Error:  registry.SetError(message),
	}); err != nil {
		w.logger.Error("could not record job failure",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}
	if job.SourcePath != "" {
		if err := fileutil.RemoveIfExists(job.SourcePath); err != nil {
			w.logger.Warn("could not remove failed job's source",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}
	w.checkBatchCompletion(ctx, job.BatchID)
}

func (w *Worker) deductQuota(ctx context.Context, job *store.Job) {
	if w.ledger == nil || job.InviteCode == "" {
		return
	}
	remaining, err := w.ledger.Deduct(ctx, job.InviteCode, job.DurationSeconds)
	if err != nil {
		w.logger.Warn("invite deduction failed",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	w.logger.Info("invite quota deducted",
		logging.String(logging.FieldJobID, job.ID),
		logging.Float64("seconds", job.DurationSeconds),
		logging.Float64("remaining", remaining))
}

// checkBatchCompletion builds the combined archive once every member of the
// batch has reached a terminal status.
func (w *Worker) checkBatchCompletion(ctx context.Context, batchID string) {
	if batchID == "" {
		return
	}
	batch, err := w.batches.Get(ctx, batchID)
	if err != nil {
		w.logger.Warn("could not load batch for completion check",
			logging.String(logging.FieldBatchID, batchID), logging.Error(err))
		return
	}
	if batch.ArchiveFilename != "" {
		return
	}

	// An early failure flips the batch to partial_failed while siblings are
	// still running; the archive still waits for every member to finish.
	var outputs []string
	for _, jobID := range batch.JobIDs {
		member, err := w.jobs.Get(ctx, jobID)
		if err != nil {
			continue
		}
		if !member.Status.IsTerminal() {
			return
		}
		if !member.Status.IsTerminalSuccess() || member.OutputFilename == "" {
			continue
		}
		if path := w.layout.OutputPath(member.OutputFilename); path != "" {
			if _, statErr := os.Stat(path); statErr == nil {
				outputs = append(outputs, path)
			}
		}
	}
	if len(outputs) == 0 {
		w.logger.Warn("batch finished with no collectable outputs",
			logging.String(logging.FieldBatchID, batchID))
		return
	}

	archive := w.layout.BatchArchivePath(batchID)
	if err := fileutil.BuildZip(archive, outputs); err != nil {
		w.logger.Error("could not build batch archive",
			logging.String(logging.FieldBatchID, batchID), logging.Error(err))
		return
	}
	recorded, err := w.batches.SetArchive(ctx, batchID, artifacts.BatchArchiveName(batchID))
	if err != nil {
		w.logger.Error("could not record batch archive",
			logging.String(logging.FieldBatchID, batchID), logging.Error(err))
		return
	}
	if recorded {
		w.logger.Info("batch archive built",
			logging.String(logging.FieldBatchID, batchID),
			logging.Int("members", len(outputs)))
	}
}
