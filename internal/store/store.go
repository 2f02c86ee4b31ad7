package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"subtran/internal/config"
	"subtran/internal/logging"
)

// Store owns the persistent job document. All reads and writes funnel through
// a single background goroutine draining an ordered operation queue, so every
// operation observes the document exactly as the previous operation left it.
// Each mutating operation is load, mutate, save: the on-disk file is replaced
// atomically so a crash mid-write never corrupts the document.
type Store struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger

	ops    chan operation
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

type operation struct {
	fn     func(*Document) error
	mutate bool
	result chan error
}

// Open prepares the store and starts the consumer goroutine. The document file
// is created on first save; a pre-existing file is validated up front.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("store: config is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath()), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	s := &Store{
		path:    cfg.StorePath(),
		timeout: time.Duration(cfg.Worker.StoreOpTimeout) * time.Second,
		logger:  logging.NewComponentLogger(logger, "store"),
		ops:     make(chan operation, 64),
		done:    make(chan struct{}),
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}

	if _, err := s.load(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.consume()
	return s, nil
}

// Path returns the location of the document file.
func (s *Store) Path() string {
	return s.path
}

// Update runs fn against the current document and persists the result. The
// call blocks until the operation completes, the context is cancelled, or the
// persistence timeout expires. On timeout the operation stays queued and may
// still execute.
func (s *Store) Update(ctx context.Context, fn func(*Document) error) error {
	return s.submit(ctx, fn, true)
}

// View runs fn against the current document without persisting. View
// operations share the queue with updates, so a view observes every update
// submitted before it.
func (s *Store) View(ctx context.Context, fn func(*Document) error) error {
	return s.submit(ctx, fn, false)
}

// Close stops the consumer after the current operation finishes. Operations
// still queued are failed with ErrClosed.
func (s *Store) Close() error {
	s.closed.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *Store) submit(ctx context.Context, fn func(*Document) error, mutate bool) error {
	if fn == nil {
		return errors.New("store: nil operation")
	}
	op := operation{fn: fn, mutate: mutate, result: make(chan error, 1)}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.ops <- op:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}

	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

func (s *Store) consume() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.ops:
			op.result <- s.execute(op)
		case <-s.done:
			// Fail anything still queued so callers are not left hanging.
			for {
				select {
				case op := <-s.ops:
					op.result <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

func (s *Store) execute(op operation) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := op.fn(doc); err != nil {
		return err
	}
	if !op.mutate {
		return nil
	}
	doc.Metadata.UpdatedAt = time.Now().UTC()
	return s.save(doc)
}

func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("store: read document: %w", err)
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		// Preserve the unreadable file for inspection and start fresh rather
		// than refusing every operation.
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return nil, fmt.Errorf("store: document corrupt and backup failed: %w", renameErr)
		}
		s.logger.Warn("document corrupt, starting fresh",
			logging.String("backup", backup),
			logging.Error(err))
		return NewDocument(), nil
	}
	doc.ensureContainers()
	return doc, nil
}

func (s *Store) save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: replace document: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}
	return nil
}
