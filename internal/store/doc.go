// Package store persists every job and batch in a single JSON document.
//
// The document lives in one file (tasks.json) with three top-level sections:
// single_tasks, batch_tasks, and metadata. One consumer goroutine drains an
// ordered operation queue; each operation loads the document, applies its
// function, and (for updates) writes the result back via an atomic temp file
// plus rename. Callers block on per-operation completion with a bounded wait
// so a wedged disk surfaces as ErrTimeout instead of a hung daemon.
package store
