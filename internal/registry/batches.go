package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"subtran/internal/logging"
	"subtran/internal/services"
	"subtran/internal/store"
)

// Batches exposes batch-level operations over the persistent document.
type Batches struct {
	store  *store.Store
	logger *slog.Logger
}

// NewBatches builds the batch registry.
func NewBatches(st *store.Store, logger *slog.Logger) *Batches {
	return &Batches{
		store:  st,
		logger: logging.NewComponentLogger(logger, "batches"),
	}
}

// Create groups existing jobs into a batch. Every job must exist and must not
// already belong to a batch; member filename, status, and duration are
// snapshotted and each job is stamped with the batch id.
func (b *Batches) Create(ctx context.Context, name string, jobIDs []string) (*store.Batch, error) {
	if len(jobIDs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "batches", "create", "at least one job is required", nil)
	}

	now := time.Now().UTC()
	batch := &store.Batch{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Status:    store.BatchProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := b.store.Update(ctx, func(doc *store.Document) error {
		seen := make(map[string]struct{}, len(jobIDs))
		for _, id := range jobIDs {
			if _, dup := seen[id]; dup {
				return services.Wrap(services.ErrValidation, "batches", "create", "duplicate job "+id, nil)
			}
			seen[id] = struct{}{}

			job, ok := doc.SingleTasks[id]
			if !ok {
				return services.Wrap(services.ErrNotFound, "batches", "create", "job "+id, nil)
			}
			if job.BatchID != "" {
				return services.Wrap(services.ErrValidation, "batches", "create",
					"job "+id+" already belongs to batch "+job.BatchID, nil)
			}
		}
		for _, id := range jobIDs {
			job := doc.SingleTasks[id]
			job.BatchID = batch.ID
			job.UpdatedAt = now
			batch.JobIDs = append(batch.JobIDs, id)
			batch.Members = append(batch.Members, store.BatchMember{
				JobID:           id,
				Filename:        job.Filename,
				Status:          job.Status,
				DurationSeconds: job.DurationSeconds,
			})
		}
		doc.BatchTasks[batch.ID] = batch.Clone()
		recomputeBatch(doc, batch.ID)
		stored := doc.BatchTasks[batch.ID]
		batch = stored.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("batch created",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.Int("members", len(batch.JobIDs)))
	return batch, nil
}

// Get returns a snapshot of one batch.
func (b *Batches) Get(ctx context.Context, id string) (*store.Batch, error) {
	var snapshot *store.Batch
	err := b.store.View(ctx, func(doc *store.Document) error {
		batch, ok := doc.BatchTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "batches", "get", "batch "+id, nil)
		}
		snapshot = batch.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// List returns snapshots of every batch.
func (b *Batches) List(ctx context.Context) ([]*store.Batch, error) {
	var batches []*store.Batch
	err := b.store.View(ctx, func(doc *store.Document) error {
		batches = make([]*store.Batch, 0, len(doc.BatchTasks))
		for _, batch := range doc.BatchTasks {
			batches = append(batches, batch.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// Recompute re-derives the batch status from its members' current statuses.
func (b *Batches) Recompute(ctx context.Context, id string) (*store.Batch, error) {
	var snapshot *store.Batch
	err := b.store.Update(ctx, func(doc *store.Document) error {
		if _, ok := doc.BatchTasks[id]; !ok {
			return services.Wrap(services.ErrNotFound, "batches", "recompute", "batch "+id, nil)
		}
		recomputeBatch(doc, id)
		snapshot = doc.BatchTasks[id].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Delete removes a batch after detaching all members.
func (b *Batches) Delete(ctx context.Context, id string) error {
	return b.store.Update(ctx, func(doc *store.Document) error {
		batch, ok := doc.BatchTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "batches", "delete", "batch "+id, nil)
		}
		for _, jobID := range batch.JobIDs {
			if job, ok := doc.SingleTasks[jobID]; ok && job.BatchID == id {
				job.BatchID = ""
				job.UpdatedAt = time.Now().UTC()
			}
		}
		delete(doc.BatchTasks, id)
		return nil
	})
}

// SetArchive records the combined download archive built for a finished
// batch. The first writer wins; later calls are no-ops so concurrent
// completion checks cannot clobber each other.
func (b *Batches) SetArchive(ctx context.Context, id, filename string) (bool, error) {
	recorded := false
	err := b.store.Update(ctx, func(doc *store.Document) error {
		batch, ok := doc.BatchTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "batches", "set-archive", "batch "+id, nil)
		}
		if batch.ArchiveFilename != "" {
			return nil
		}
		batch.ArchiveFilename = filename
		batch.UpdatedAt = time.Now().UTC()
		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// Progress returns the aggregate batch progress: the average over members,
// where a member in a terminal-success status counts as 100.
func (b *Batches) Progress(ctx context.Context, id string) (float64, error) {
	var total float64
	var count int
	err := b.store.View(ctx, func(doc *store.Document) error {
		batch, ok := doc.BatchTasks[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "batches", "progress", "batch "+id, nil)
		}
		for _, jobID := range batch.JobIDs {
			job, ok := doc.SingleTasks[jobID]
			if !ok {
				continue
			}
			count++
			if job.Status.IsTerminalSuccess() {
				total += 100
			} else {
				total += job.Progress
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	return clampProgress(total / float64(count)), nil
}

// ComputeBatchStatus derives the aggregate status from member statuses. A
// single failed member makes the batch partial_failed immediately, even while
// siblings are still running; done requires every member to reach a
// terminal-success status.
func ComputeBatchStatus(statuses []store.Status) store.BatchStatus {
	if len(statuses) == 0 {
		return store.BatchProcessing
	}
	allTerminal := true
	for _, status := range statuses {
		if status == store.StatusFailed {
			return store.BatchPartialFailed
		}
		if !status.IsTerminal() {
			allTerminal = false
		}
	}
	if allTerminal {
		return store.BatchDone
	}
	return store.BatchProcessing
}

// recomputeBatch updates a batch's status in place inside a store operation.
func recomputeBatch(doc *store.Document, batchID string) {
	batch, ok := doc.BatchTasks[batchID]
	if !ok {
		return
	}
	statuses := make([]store.Status, 0, len(batch.JobIDs))
	for _, jobID := range batch.JobIDs {
		if job, ok := doc.SingleTasks[jobID]; ok {
			statuses = append(statuses, job.Status)
		}
	}
	next := ComputeBatchStatus(statuses)
	if next != batch.Status {
		batch.Status = next
		batch.UpdatedAt = time.Now().UTC()
	}
}

// detachFromBatch removes one member and deletes the batch when it empties.
func detachFromBatch(doc *store.Document, batchID, jobID string) {
	batch, ok := doc.BatchTasks[batchID]
	if !ok {
		return
	}
	ids := batch.JobIDs[:0]
	for _, id := range batch.JobIDs {
		if id != jobID {
			ids = append(ids, id)
		}
	}
	batch.JobIDs = ids

	members := batch.Members[:0]
	for _, member := range batch.Members {
		if member.JobID != jobID {
			members = append(members, member)
		}
	}
	batch.Members = members

	if len(batch.JobIDs) == 0 {
		delete(doc.BatchTasks, batchID)
		return
	}
	batch.UpdatedAt = time.Now().UTC()
	recomputeBatch(doc, batchID)
}
