// Package recovery repairs the document after a daemon restart. Jobs that
// were mid-stage when the process died keep their status; only the partial
// artifact of the interrupted stage is removed so the worker can re-run the
// stage from a clean slate. Jobs whose uploaded source vanished are the one
// exception: without the source nothing can be re-run, so they fail.
package recovery

import (
	"context"
	"log/slog"
	"os"
	"time"

	"subtran/internal/artifacts"
	"subtran/internal/config"
	"subtran/internal/fileutil"
	"subtran/internal/logging"
	"subtran/internal/registry"
	"subtran/internal/store"
)

// Coordinator scans incomplete jobs once at startup.
type Coordinator struct {
	jobs    *registry.Jobs
	layout  artifacts.Layout
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a startup recovery coordinator.
func New(cfg *config.Config, jobs *registry.Jobs, layout artifacts.Layout, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		jobs:    jobs,
		layout:  layout,
		timeout: time.Duration(cfg.Worker.RecoveryTimeout) * time.Second,
		logger:  logging.NewComponentLogger(logger, "recovery"),
	}
}

// Run performs the recovery scan. The scan is time-bounded: if it cannot
// finish inside the configured window the daemon starts anyway and the
// worker handles the remaining jobs through its normal resume path.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	incomplete, err := c.jobs.GetIncomplete(ctx)
	if err != nil {
		return err
	}

	var cleaned, failed, skipped int
	for _, job := range incomplete {
		if ctx.Err() != nil {
			c.logger.Warn("recovery window elapsed before scan finished",
				logging.Int("remaining", len(incomplete)-cleaned-failed-skipped))
			break
		}
		switch c.recoverJob(ctx, job) {
		case recoveredArtifact:
			cleaned++
		case recoveredFailed:
			failed++
		default:
			skipped++
		}
	}

	c.logger.Info("startup recovery finished",
		logging.Int("incomplete", len(incomplete)),
		logging.Int("artifacts_removed", cleaned),
		logging.Int("failed_missing_source", failed),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}

type outcome int

const (
	recoveredNothing outcome = iota
	recoveredArtifact
	recoveredFailed
)

func (c *Coordinator) recoverJob(ctx context.Context, job *store.Job) outcome {
	if job.Status == store.StatusFailed {
		// Already failed before the restart; nothing left to repair.
		return recoveredNothing
	}

	if job.SourcePath != "" {
		if _, err := os.Stat(job.SourcePath); os.IsNotExist(err) {
			_, updateErr := c.jobs.UpdateStatus(ctx, job.ID, registry.StatusUpdate{
				Status: store.StatusFailed,
				Error:  registry.SetError("source file missing after restart"),
			})
			if updateErr != nil {
				c.logger.Error("failed to mark job without source",
					logging.String(logging.FieldJobID, job.ID), logging.Error(updateErr))
				return recoveredNothing
			}
			c.logger.Warn("job failed: source missing after restart",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("source_path", job.SourcePath))
			return recoveredFailed
		}
	}

	artifact := c.layout.StageArtifact(job.ID, job.Status)
	if artifact == "" {
		return recoveredNothing
	}
	if err := fileutil.RemoveIfExists(artifact); err != nil {
		c.logger.Warn("could not remove partial artifact",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("artifact", artifact),
			logging.Error(err))
		return recoveredNothing
	}
	c.logger.Info("removed partial artifact for interrupted stage",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldStage, string(job.Status)),
		logging.String("artifact", artifact))
	return recoveredArtifact
}
