package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"subtran/internal/arbiter"
	"subtran/internal/artifacts"
	"subtran/internal/config"
	"subtran/internal/fileutil"
	"subtran/internal/invites"
	"subtran/internal/logging"
	"subtran/internal/recovery"
	"subtran/internal/registry"
	"subtran/internal/services"
	"subtran/internal/services/ffmpeg"
	"subtran/internal/services/ollama"
	"subtran/internal/services/whisper"
	"subtran/internal/store"
	"subtran/internal/sweeper"
	"subtran/internal/worker"
)

var sourceExtensions = map[string]struct{}{
	".mkv": {},
	".mp4": {},
	".avi": {},
	".mov": {},
}

// Daemon composes the pipeline services and enforces single-instance
// execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *store.Store
	jobs      *registry.Jobs
	batches   *registry.Batches
	ledger    *invites.Ledger
	layout    artifacts.Layout
	arbiter   *arbiter.Arbiter
	media     *ffmpeg.Runner
	recovery  *recovery.Coordinator
	sweeper   *sweeper.Sweeper
	countdown *sweeper.Countdown
	worker    *worker.Worker

	lockPath string
	lock     *flock.Flock

	server   *http.Server
	listener net.Listener

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires the full service graph from config.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	st, err := store.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	jobs := registry.NewJobs(st, logger)
	batches := registry.NewBatches(st, logger)
	layout := artifacts.NewLayout(cfg)

	var ledger *invites.Ledger
	if cfg.Invites.Enabled {
		ledger, err = invites.Open(cfg, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open invite ledger: %w", err)
		}
	}

	whisperClient := whisper.New(cfg.Whisper, logger)
	ollamaClient := ollama.New(cfg.Ollama, logger)
	media := ffmpeg.New(cfg.FFmpeg, logger)
	gpu := arbiter.New(cfg.Ollama.BaseURL, whisperClient, ollamaClient, logger)

	var quota worker.QuotaLedger
	if ledger != nil {
		quota = ledger
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		jobs:     jobs,
		batches:  batches,
		ledger:   ledger,
		layout:   layout,
		arbiter:  gpu,
		media:    media,
		recovery: recovery.New(cfg, jobs, layout, logger),
		sweeper:  sweeper.New(cfg, jobs, batches, layout, logger),
		worker:   worker.New(cfg, jobs, batches, layout, gpu, whisperClient, ollamaClient, media, quota, logger),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.countdown = sweeper.NewCountdown(
		time.Duration(cfg.Sweeper.CountdownInitialMins)*time.Minute,
		time.Duration(cfg.Sweeper.CountdownExtendedMins)*time.Minute,
		d.expireFromCountdown,
		logger,
	)
	return d, nil
}

// Start acquires the lock, runs startup recovery, and launches the worker,
// the sweeper, the countdown, and the admin API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another subtran daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.recovery.Run(runCtx); err != nil {
		d.logger.Error("startup recovery failed", logging.Error(err))
	}

	listener, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("bind admin api: %w", err)
	}
	d.listener = listener
	d.server = &http.Server{Handler: d.routes()}

	d.wg.Add(4)
	go func() {
		defer d.wg.Done()
		d.worker.Run(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.sweeper.Run(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.countdown.Run(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("admin api stopped", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", listener.Addr().String()))
	return nil
}

// APIAddr returns the bound admin API address, useful when the bind port is 0.
func (d *Daemon) APIAddr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Stop shuts down background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.server.Shutdown(shutdownCtx)
		cancel()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and releases persistent resources.
func (d *Daemon) Close() error {
	d.Stop()
	var firstErr error
	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			firstErr = err
		}
	}
	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// AddFile enqueues a local video file: the source is copied into the upload
// area under the new job's id, its duration probed, and the invite (when
// quotas are enabled) validated against that duration. An empty mode falls
// back to the configured default output kind.
func (d *Daemon) AddFile(ctx context.Context, sourcePath, inviteCode, mode string) (*store.Job, error) {
	resolved, err := d.resolveMode(mode)
	if err != nil {
		return nil, err
	}
	return d.registerFile(ctx, sourcePath, inviteCode, resolved)
}

// AddBatch enqueues several local files as one named batch, all sharing one
// output mode. Intake is all-or-nothing: any file failing rolls back the jobs
// registered before it, so a batch never exists half-created.
func (d *Daemon) AddBatch(ctx context.Context, name string, sourcePaths []string, inviteCode, mode string) (*store.Batch, []*store.Job, error) {
	resolved, err := d.resolveMode(mode)
	if err != nil {
		return nil, nil, err
	}
	if len(sourcePaths) < 2 {
		return nil, nil, services.Wrap(services.ErrValidation, "", "add-batch", "a batch needs at least two files", nil)
	}

	created := make([]*store.Job, 0, len(sourcePaths))
	rollback := func() {
		for _, job := range created {
			_ = d.layout.RemoveJobFiles(job)
			_ = d.jobs.Delete(ctx, job.ID)
		}
	}

	var totalDuration float64
	for _, path := range sourcePaths {
		job, err := d.registerFile(ctx, path, inviteCode, resolved)
		if err != nil {
			rollback()
			return nil, nil, fmt.Errorf("add %s: %w", filepath.Base(path), err)
		}
		created = append(created, job)
		totalDuration += job.DurationSeconds
	}

	// Each file was validated on its own; the batch as a whole must also fit
	// the invite's remaining quota.
	if d.ledger != nil {
		if err := d.ledger.Validate(ctx, inviteCode, totalDuration); err != nil {
			rollback()
			return nil, nil, err
		}
	}

	ids := make([]string, len(created))
	for i, job := range created {
		ids[i] = job.ID
	}
	batch, err := d.batches.Create(ctx, name, ids)
	if err != nil {
		rollback()
		return nil, nil, err
	}

	d.logger.Info("batch enqueued",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.String("name", batch.Name),
		logging.Int("members", len(created)))
	return batch, created, nil
}

// resolveMode parses a requested output mode, defaulting from config when the
// request leaves it empty.
func (d *Daemon) resolveMode(raw string) (store.Mode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if d.cfg.FFmpeg.MuxSubtitles {
			return store.ModeSubtitleAndVideo, nil
		}
		return store.ModeSubtitleOnly, nil
	}
	mode, ok := store.ParseMode(trimmed)
	if !ok {
		return "", services.Wrap(services.ErrValidation, "", "intake", fmt.Sprintf("unknown mode %q", trimmed), nil)
	}
	return mode, nil
}

func (d *Daemon) registerFile(ctx context.Context, sourcePath, inviteCode string, mode store.Mode) (*store.Job, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return nil, errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source path %q is a directory", absPath)
	}
	ext := strings.ToLower(filepath.Ext(info.Name()))
	if _, ok := sourceExtensions[ext]; !ok {
		return nil, fmt.Errorf("unsupported file extension %q", ext)
	}

	duration, err := d.media.Probe(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("probe source: %w", err)
	}
	if d.ledger != nil {
		if err := d.ledger.Validate(ctx, inviteCode, duration); err != nil {
			return nil, err
		}
	}

	job, err := d.jobs.Create(ctx, registry.NewJob{
		Filename:        info.Name(),
		Mode:            mode,
		InviteCode:      inviteCode,
		DurationSeconds: duration,
	})
	if err != nil {
		return nil, err
	}

	dest := d.layout.SourcePath(job.ID, info.Name())
	if err := fileutil.CopyFileVerified(absPath, dest); err != nil {
		_ = d.jobs.Delete(ctx, job.ID)
		return nil, fmt.Errorf("copy source: %w", err)
	}
	if err := d.setSourcePath(ctx, job.ID, dest); err != nil {
		return nil, err
	}
	job.SourcePath = dest

	d.logger.Info("file enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldFilename, job.Filename))
	return job, nil
}

func (d *Daemon) setSourcePath(ctx context.Context, jobID, sourcePath string) error {
	return d.store.Update(ctx, func(doc *store.Document) error {
		job, ok := doc.SingleTasks[jobID]
		if !ok {
			return fmt.Errorf("job %s vanished during intake", jobID)
		}
		job.SourcePath = sourcePath
		job.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// expireFromCountdown is the countdown's deletion callback.
func (d *Daemon) expireFromCountdown(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(d.cfg.Worker.StoreOpTimeout)*time.Second)
	defer cancel()
	if err := d.sweeper.ExpireNow(ctx, jobID); err != nil {
		d.logger.Warn("countdown expiry failed",
			logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
