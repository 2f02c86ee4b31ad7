// Package sweeper owns the artifact lifecycle after jobs finish: retention
// of downloaded outputs, expiry of neglected ones, removal of orphaned files,
// and the final purge of settled database records. It runs on a timer plus
// an on-demand trigger from the admin API, and carries the fast
// download-countdown path in Countdown.
package sweeper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subtran/internal/artifacts"
	"subtran/internal/config"
	"subtran/internal/logging"
	"subtran/internal/registry"
	"subtran/internal/store"
)

// Report tallies what one sweep cycle did.
type Report struct {
	ExpiredDownloads int `json:"expired_downloads"`
	ExpiredNeglected int `json:"expired_neglected"`
	OrphanFiles      int `json:"orphan_files"`
	PurgedRecords    int `json:"purged_records"`
	OrphanBatches    int `json:"orphan_batches"`
}

// Sweeper walks the lifecycle phases over the persistent document.
type Sweeper struct {
	jobs    *registry.Jobs
	batches *registry.Batches
	layout  artifacts.Layout
	logger  *slog.Logger

	interval          time.Duration
	downloadRetention time.Duration
	neglectRetention  time.Duration
	purgeSettle       time.Duration

	now func() time.Time
}

// New builds the sweeper from config.
func New(cfg *config.Config, jobs *registry.Jobs, batches *registry.Batches, layout artifacts.Layout, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		jobs:              jobs,
		batches:           batches,
		layout:            layout,
		logger:            logging.NewComponentLogger(logger, "sweeper"),
		interval:          time.Duration(cfg.Sweeper.Interval) * time.Second,
		downloadRetention: time.Duration(cfg.Sweeper.DownloadRetentionHrs) * time.Hour,
		neglectRetention:  time.Duration(cfg.Sweeper.NeglectRetentionHrs) * time.Hour,
		purgeSettle:       time.Duration(cfg.Sweeper.PurgeSettleSeconds) * time.Second,
		now:               time.Now,
	}
}

// WithClock overrides the time source in tests.
func (s *Sweeper) WithClock(now func() time.Time) {
	s.now = now
}

// Run sweeps on the configured interval until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep cycle failed", logging.Error(err))
			}
		}
	}
}

// Sweep runs all lifecycle phases once, in order. Phase errors on individual
// jobs are logged and skipped so one bad record cannot stall the cycle.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return report, err
	}

	now := s.now()
	for _, job := range jobs {
		switch {
		case job.Status == store.StatusDownloaded &&
			job.DownloadedAt != nil && now.Sub(*job.DownloadedAt) >= s.downloadRetention:
			if s.expireJob(ctx, job, "download retention elapsed") == nil {
				report.ExpiredDownloads++
			}
		case job.Status == store.StatusDone &&
			job.CompletedAt != nil && now.Sub(*job.CompletedAt) >= s.neglectRetention:
			if s.expireJob(ctx, job, "output never downloaded") == nil {
				report.ExpiredNeglected++
			}
		}
	}

	// Re-list so later phases observe the expiries above.
	jobs, err = s.jobs.List(ctx)
	if err != nil {
		return report, err
	}
	batches, err := s.batches.List(ctx)
	if err != nil {
		return report, err
	}

	report.OrphanFiles = s.sweepOrphanFiles(jobs, batches)
	report.PurgedRecords = s.purgeSettled(ctx, jobs, now)
	report.OrphanBatches = s.sweepOrphanBatches(ctx, jobs, batches)

	if report != (Report{}) {
		s.logger.Info("sweep cycle finished",
			logging.Int("expired_downloads", report.ExpiredDownloads),
			logging.Int("expired_neglected", report.ExpiredNeglected),
			logging.Int("orphan_files", report.OrphanFiles),
			logging.Int("purged_records", report.PurgedRecords),
			logging.Int("orphan_batches", report.OrphanBatches))
	}
	return report, nil
}

// ExpireNow force-expires one job regardless of retention windows. Used by
// the admin API and the download countdown.
func (s *Sweeper) ExpireNow(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == store.StatusExpired {
		return nil
	}
	return s.expireJob(ctx, job, "forced expiry")
}

func (s *Sweeper) expireJob(ctx context.Context, job *store.Job, reason string) error {
	if err := s.layout.RemoveJobFiles(job); err != nil {
		s.logger.Warn("could not remove job artifacts",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return err
	}
	if err := s.jobs.MarkExpired(ctx, job.ID); err != nil {
		s.logger.Error("could not mark job expired",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return err
	}
	s.logger.Info("job expired",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("reason", reason))
	return nil
}

// sweepOrphanFiles removes files in the managed directories that no live job
// or batch accounts for. Every managed file is prefixed with the owning id,
// so ownership is derivable from the name alone. Only entries older than the
// download retention window are removed: a fresh unowned file may be an
// upload whose job record has not committed yet.
func (s *Sweeper) sweepOrphanFiles(jobs []*store.Job, batches []*store.Batch) int {
	known := make(map[string]bool, len(jobs)+len(batches))
	// Any existing record owns its files, expired ones included: leftovers
	// of expired jobs are the purge phase's business, where they block the
	// record purge until verifiably gone.
	for _, job := range jobs {
		known[job.ID] = true
	}
	for _, batch := range batches {
		known[batch.ID] = true
	}

	removed := 0
	for _, dir := range []string{s.layout.UploadDir(), s.layout.OutputDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			owner := ownerID(entry.Name())
			if owner != "" && known[owner] {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if !s.orphanAged(path) {
				continue
			}
			if err := os.Remove(path); err != nil {
				s.logger.Warn("could not remove orphan file",
					logging.String("path", path), logging.Error(err))
				continue
			}
			s.logger.Info("removed orphan file", logging.String("path", path))
			removed++
		}
	}

	// Scratch directories are named by job id directly.
	workRoot := s.layout.WorkRoot()
	if entries, err := os.ReadDir(workRoot); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() || known[entry.Name()] {
				continue
			}
			path := filepath.Join(workRoot, entry.Name())
			if !s.orphanAged(path) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				s.logger.Warn("could not remove orphan work dir",
					logging.String("path", path), logging.Error(err))
				continue
			}
			s.logger.Info("removed orphan work dir", logging.String("path", path))
			removed++
		}
	}
	return removed
}

// orphanAged reports whether an unowned entry has sat on disk long enough to
// be removed. Unstat-able entries are left for a later cycle.
func (s *Sweeper) orphanAged(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return s.now().Sub(info.ModTime()) >= s.downloadRetention
}

// ownerID extracts the job or batch id prefix from a managed filename.
func ownerID(name string) string {
	name = strings.TrimPrefix(name, ".")
	if idx := strings.IndexByte(name, '_'); idx > 0 {
		return name[:idx]
	}
	return ""
}

// purgeSettled deletes expired records once they have settled and their
// artifacts are verifiably gone from disk. Records with lingering files get
// a removal attempt now and are purged on a later cycle.
func (s *Sweeper) purgeSettled(ctx context.Context, jobs []*store.Job, now time.Time) int {
	purged := 0
	for _, job := range jobs {
		if job.Status != store.StatusExpired {
			continue
		}
		if now.Sub(job.UpdatedAt) < s.purgeSettle {
			continue
		}
		if !s.artifactsGone(job) {
			s.logger.Warn("expired job still has artifacts on disk",
				logging.String(logging.FieldJobID, job.ID))
			_ = s.layout.RemoveJobFiles(job)
			continue
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			s.logger.Error("could not purge job record",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			continue
		}
		purged++
	}
	return purged
}

func (s *Sweeper) artifactsGone(job *store.Job) bool {
	paths := s.layout.JobOutputs(job)
	if job.SourcePath != "" {
		paths = append(paths, job.SourcePath)
	}
	paths = append(paths, s.layout.WorkDir(job.ID))
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return false
		}
	}
	return true
}

// sweepOrphanBatches deletes batches none of whose members exist anymore.
func (s *Sweeper) sweepOrphanBatches(ctx context.Context, jobs []*store.Job, batches []*store.Batch) int {
	live := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		live[job.ID] = true
	}

	removed := 0
	for _, batch := range batches {
		anyLive := false
		for _, id := range batch.JobIDs {
			if live[id] {
				anyLive = true
				break
			}
		}
		if anyLive {
			continue
		}
		if batch.ArchiveFilename != "" {
			if path := s.layout.OutputPath(batch.ArchiveFilename); path != "" {
				_ = os.Remove(path)
			}
		}
		if err := s.batches.Delete(ctx, batch.ID); err != nil {
			s.logger.Error("could not delete orphan batch",
				logging.String(logging.FieldBatchID, batch.ID), logging.Error(err))
			continue
		}
		s.logger.Info("removed orphan batch", logging.String(logging.FieldBatchID, batch.ID))
		removed++
	}
	return removed
}
