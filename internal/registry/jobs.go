package registry

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"subtran/internal/logging"
	"subtran/internal/services"
	"subtran/internal/store"
)

// Jobs exposes job-level operations over the persistent document.
type Jobs struct {
	store  *store.Store
	logger *slog.Logger
}

// NewJobs builds the job registry.
func NewJobs(st *store.Store, logger *slog.Logger) *Jobs {
	return &Jobs{
		store:  st,
		logger: logging.NewComponentLogger(logger, "jobs"),
	}
}

// NewJob describes a job to create. An empty Mode defaults to subtitle_only.
type NewJob struct {
	Filename        string
	SourcePath      string
	Mode            store.Mode
	InviteCode      string
	DurationSeconds float64
}

// Create inserts a queued job and returns its snapshot.
func (j *Jobs) Create(ctx context.Context, req NewJob) (*store.Job, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return nil, services.Wrap(services.ErrValidation, "jobs", "create", "filename is required", nil)
	}
	mode := req.Mode
	if mode == "" {
		mode = store.ModeSubtitleOnly
	}
	if _, ok := store.ParseMode(string(mode)); !ok {
		return nil, services.Wrap(services.ErrValidation, "jobs", "create", "unknown mode "+string(mode), nil)
	}

	now := time.Now().UTC()
	job := &store.Job{
		ID:              uuid.NewString(),
		Filename:        filename,
		SourcePath:      strings.TrimSpace(req.SourcePath),
		Mode:            mode,
		Status:          store.StatusQueued,
		InviteCode:      strings.TrimSpace(req.InviteCode),
		DurationSeconds: req.DurationSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := j.store.Update(ctx, func(doc *store.Document) error {
		doc.SingleTasks[job.ID] = job.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	j.logger.Info("job created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldFilename, job.Filename))
	return job, nil
}

// ErrorUpdate controls how UpdateStatus treats the stored error message.
// The zero value leaves the message untouched; use ClearError or SetError to
// change it. An explicit sentinel keeps "no change" distinguishable from
// "clear the message".
type ErrorUpdate struct {
	set     bool
	clear   bool
	message string
}

// KeepError leaves the stored error message as-is.
func KeepError() ErrorUpdate { return ErrorUpdate{} }

// ClearError removes the stored error message.
func ClearError() ErrorUpdate { return ErrorUpdate{clear: true} }

// SetError replaces the stored error message.
func SetError(message string) ErrorUpdate {
	return ErrorUpdate{set: true, message: strings.TrimSpace(message)}
}

// StatusUpdate describes a partial job update. Zero-valued fields are left
// unchanged on the stored job; pointer fields distinguish "leave alone" (nil)
// from "set to this value" (including the empty value). A non-nil ResumeData
// replaces the stored map; an empty non-nil map clears it.
type StatusUpdate struct {
	Status         store.Status
	Progress       *float64
	ProgressText   *string
	CurrentStep    *string
	Resumable      *bool
	ResumeData     map[string]string
	Error          ErrorUpdate
	OutputFilename string
}

// UpdateStatus applies a partial update to a job. When the job belongs to a
// batch the batch status is recomputed in the same store operation, so the
// document never shows a job/batch combination that disagrees.
func (j *Jobs) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*store.Job, error) {
	if update.Status != "" {
		if _, ok := store.ParseStatus(string(update.Status)); !ok {
			return nil, services.Wrap(services.ErrValidation, "jobs", "update-status",
				"unknown status "+string(update.Status), nil)
		}
	}

	var snapshot *store.Job
	err := j.store.Update(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "jobs", "update-status", "job "+id, nil)
		}
		if update.Status != "" {
			job.Status = update.Status
			if update.Status.IsTerminalSuccess() && job.CompletedAt == nil {
				now := time.Now().UTC()
				job.CompletedAt = &now
			}
		}
		if update.Progress != nil {
			job.Progress = clampProgress(*update.Progress)
		}
		if update.ProgressText != nil {
			job.ProgressText = strings.TrimSpace(*update.ProgressText)
		}
		if update.CurrentStep != nil {
			job.CurrentStep = strings.TrimSpace(*update.CurrentStep)
		}
		if update.Resumable != nil {
			job.Resumable = *update.Resumable
		}
		if update.ResumeData != nil {
			if len(update.ResumeData) == 0 {
				job.ResumeData = nil
			} else {
				data := make(map[string]string, len(update.ResumeData))
				for k, v := range update.ResumeData {
					data[k] = v
				}
				job.ResumeData = data
			}
		}
		switch {
		case update.Error.set:
			job.ErrorMessage = update.Error.message
		case update.Error.clear:
			job.ErrorMessage = ""
		}
		if update.OutputFilename != "" {
			job.OutputFilename = update.OutputFilename
		}
		job.UpdatedAt = time.Now().UTC()

		if job.BatchID != "" {
			recomputeBatch(doc, job.BatchID)
		}
		snapshot = job.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// UpdateProgress persists a progress percentage, clamped to [0, 100] and
// rounded to one decimal place.
func (j *Jobs) UpdateProgress(ctx context.Context, id string, percent float64) error {
	value := clampProgress(percent)
	return j.store.Update(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "jobs", "update-progress", "job "+id, nil)
		}
		job.Progress = value
		job.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// SetDuration records the probed media duration used for quota accounting.
func (j *Jobs) SetDuration(ctx context.Context, id string, seconds float64) error {
	return j.store.Update(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "jobs", "set-duration", "job "+id, nil)
		}
		job.DurationSeconds = seconds
		job.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Get returns a snapshot of one job.
func (j *Jobs) Get(ctx context.Context, id string) (*store.Job, error) {
	var snapshot *store.Job
	err := j.store.View(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "jobs", "get", "job "+id, nil)
		}
		snapshot = job.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// List returns snapshots of every job sorted by creation time.
func (j *Jobs) List(ctx context.Context) ([]*store.Job, error) {
	var jobs []*store.Job
	err := j.store.View(ctx, func(doc *store.Document) error {
		jobs = make([]*store.Job, 0, len(doc.SingleTasks))
		for _, job := range doc.SingleTasks {
			jobs = append(jobs, job.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(jobs)
	return jobs, nil
}

// GetIncomplete returns jobs that still need worker attention, oldest first.
// Failed jobs are included so startup recovery can inspect them.
func (j *Jobs) GetIncomplete(ctx context.Context) ([]*store.Job, error) {
	var jobs []*store.Job
	err := j.store.View(ctx, func(doc *store.Document) error {
		for _, job := range doc.SingleTasks {
			if job.Status.IsTerminalSuccess() {
				continue
			}
			jobs = append(jobs, job.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(jobs)
	return jobs, nil
}

// MarkDownloaded records the first download of a job's output.
func (j *Jobs) MarkDownloaded(ctx context.Context, id string) (*store.Job, error) {
	var snapshot *store.Job
	err := j.store.Update(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "jobs", "mark-downloaded", "job "+id, nil)
		}
		now := time.Now().UTC()
		job.Status = store.StatusDownloaded
		if job.DownloadedAt == nil {
			job.DownloadedAt = &now
		}
		job.UpdatedAt = now
		if job.BatchID != "" {
			recomputeBatch(doc, job.BatchID)
		}
		snapshot = job.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// MarkExpired records that a job's artifacts were removed by the sweeper.
func (j *Jobs) MarkExpired(ctx context.Context, id string) error {
	return j.store.Update(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "jobs", "mark-expired", "job "+id, nil)
		}
		job.Status = store.StatusExpired
		job.UpdatedAt = time.Now().UTC()
		if job.BatchID != "" {
			recomputeBatch(doc, job.BatchID)
		}
		return nil
	})
}

// Delete removes a job. A batch member is detached first; a batch left with
// no members is deleted as well.
func (j *Jobs) Delete(ctx context.Context, id string) error {
	return j.store.Update(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "jobs", "delete", "job "+id, nil)
		}
		if job.BatchID != "" {
			detachFromBatch(doc, job.BatchID, id)
		}
		delete(doc.SingleTasks, id)
		return nil
	})
}

// CountByStatus tallies jobs per status.
func (j *Jobs) CountByStatus(ctx context.Context) (map[store.Status]int, error) {
	counts := make(map[store.Status]int)
	err := j.store.View(ctx, func(doc *store.Document) error {
		for _, job := range doc.SingleTasks {
			counts[job.Status]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func clampProgress(percent float64) float64 {
	if math.IsNaN(percent) {
		return 0
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return math.Round(percent*10) / 10
}

func sortByCreation(jobs []*store.Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
}
