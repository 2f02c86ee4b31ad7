// Package invites persists per-invite processing quota in SQLite. Each code
// carries a balance of processing seconds and an optional expiry; the worker
// deducts a finished job's media duration from the code that submitted it.
package invites
