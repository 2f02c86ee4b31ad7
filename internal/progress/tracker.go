package progress

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"sync"

	"subtran/internal/logging"
	"subtran/internal/registry"
)

// Collaborator progress lines. Extraction reports frame throughput,
// translation reports iteration throughput behind a fixed prefix.
var (
	extractionLine  = regexp.MustCompile(`(\d+(?:\.\d+)?)%\|.*frames/s`)
	translationLine = regexp.MustCompile(`翻译进度:\s*(\d+(?:\.\d+)?)%\|.*it/s`)
)

// ParseExtractionLine extracts the percentage from a transcription progress
// line ("<pct>%|... frames/s"). Returns false for anything else.
func ParseExtractionLine(line string) (float64, bool) {
	match := extractionLine.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// ParseTranslationLine extracts the percentage from a translation progress
// line ("翻译进度: <pct>%|... it/s"). Returns false for anything else.
func ParseTranslationLine(line string) (float64, bool) {
	match := translationLine.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// Tracker blends per-stage progress into one overall percentage and persists
// it through the job registry. Extraction covers 0-50, translation 50-100;
// the blended value never decreases within a run.
type Tracker struct {
	jobs   *registry.Jobs
	logger *slog.Logger
	jobID  string

	mu   sync.Mutex
	last float64
}

// NewTracker builds a tracker for one job run.
func NewTracker(jobs *registry.Jobs, logger *slog.Logger, jobID string) *Tracker {
	return &Tracker{
		jobs:   jobs,
		logger: logging.NewComponentLogger(logger, "progress"),
		jobID:  jobID,
	}
}

// HandleExtractionLine feeds one raw transcription output line.
func (t *Tracker) HandleExtractionLine(ctx context.Context, line string) {
	pct, ok := ParseExtractionLine(line)
	if !ok {
		return
	}
	t.publish(ctx, pct/2)
}

// HandleTranslationLine feeds one raw translation output line.
func (t *Tracker) HandleTranslationLine(ctx context.Context, line string) {
	pct, ok := ParseTranslationLine(line)
	if !ok {
		return
	}
	t.publish(ctx, 50+pct/2)
}

// SetTranslationCount publishes translation progress from completed/total
// segment counts, for backends that do not stream percentage lines.
func (t *Tracker) SetTranslationCount(ctx context.Context, done, total int) {
	if total <= 0 {
		return
	}
	pct := float64(done) / float64(total) * 100
	t.publish(ctx, 50+pct/2)
}

// MarkExtractionDone pins overall progress to the extraction/translation
// boundary.
func (t *Tracker) MarkExtractionDone(ctx context.Context) {
	t.publish(ctx, 50)
}

// Complete pins overall progress to 100.
func (t *Tracker) Complete(ctx context.Context) {
	t.publish(ctx, 100)
}

// Last returns the most recently published overall percentage.
func (t *Tracker) Last() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) publish(ctx context.Context, overall float64) {
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}

	t.mu.Lock()
	if overall <= t.last {
		t.mu.Unlock()
		return
	}
	t.last = overall
	t.mu.Unlock()

	if err := t.jobs.UpdateProgress(ctx, t.jobID, overall); err != nil {
		t.logger.Warn("progress update failed",
			logging.String(logging.FieldJobID, t.jobID),
			logging.Float64(logging.FieldProgress, overall),
			logging.Error(err))
	}
}
