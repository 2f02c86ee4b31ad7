package store

import "errors"

var (
	// ErrTimeout is returned when an operation could not be queued or did not
	// complete within the persistence timeout. The operation may still run.
	ErrTimeout = errors.New("store: operation timed out")

	// ErrClosed is returned for operations submitted after Close.
	ErrClosed = errors.New("store: closed")
)
