package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"subtran/internal/logging"
)

// ExpireFunc removes a job's artifacts and records the expiry. It must be
// idempotent: the periodic sweep can race the countdown on the same job.
type ExpireFunc func(jobID string)

type countdownEntry struct {
	jobID    string
	deadline time.Time
	extended bool
}

// Countdown is the fast deletion path after a download. The first download
// of an artifact schedules its deletion; a second download inside the window
// grants one extension from that moment; every later download is a no-op.
// One goroutine watches a single delay queue keyed by deadline instead of
// arming a timer per artifact.
type Countdown struct {
	initial   time.Duration
	extension time.Duration
	expire    ExpireFunc
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*countdownEntry
	wake    chan struct{}
	now     func() time.Time
}

// NewCountdown builds the countdown scheduler.
func NewCountdown(initial, extension time.Duration, expire ExpireFunc, logger *slog.Logger) *Countdown {
	return &Countdown{
		initial:   initial,
		extension: extension,
		expire:    expire,
		logger:    logging.NewComponentLogger(logger, "countdown"),
		entries:   make(map[string]*countdownEntry),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// WithClock overrides the time source in tests.
func (c *Countdown) WithClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Touch records a download of the named artifact. Deduplication is by
// filename, so concurrent downloads of the same artifact collapse into one
// schedule plus at most one extension.
func (c *Countdown) Touch(filename, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[filename]
	switch {
	case !ok:
		c.entries[filename] = &countdownEntry{
			jobID:    jobID,
			deadline: c.now().Add(c.initial),
		}
		c.logger.Info("deletion countdown started",
			logging.String(logging.FieldFilename, filename),
			logging.Duration("window", c.initial))
	case !entry.extended:
		entry.deadline = c.now().Add(c.extension)
		entry.extended = true
		c.logger.Info("deletion countdown extended once",
			logging.String(logging.FieldFilename, filename),
			logging.Duration("window", c.extension))
	default:
		return
	}
	c.signal()
}

// Cancel drops a pending countdown, e.g. when the periodic sweep already
// expired the job.
func (c *Countdown) Cancel(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, filename)
}

// Pending reports whether an artifact currently has a countdown scheduled.
func (c *Countdown) Pending(filename string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[filename]
	return ok
}

// Run drains the delay queue until the context ends.
func (c *Countdown) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := c.nextDeadline()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				continue
			}
		}

		wait := next.Sub(c.now())
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				continue
			case <-timer.C:
			}
		}

		for _, entry := range c.popDue() {
			c.logger.Info("deletion countdown elapsed",
				logging.String(logging.FieldJobID, entry.jobID))
			c.expire(entry.jobID)
		}
	}
}

func (c *Countdown) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Countdown) nextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next time.Time
	found := false
	for _, entry := range c.entries {
		if !found || entry.deadline.Before(next) {
			next = entry.deadline
			found = true
		}
	}
	return next, found
}

func (c *Countdown) popDue() []*countdownEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var due []*countdownEntry
	for filename, entry := range c.entries {
		if !entry.deadline.After(now) {
			due = append(due, entry)
			delete(c.entries, filename)
		}
	}
	return due
}
