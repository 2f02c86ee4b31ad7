// Package daemon wires the pipeline together: persistent store, registries,
// invite ledger, GPU arbiter, startup recovery, lifecycle sweeper, download
// countdown, and the worker loop, plus the local admin API. A lock file
// keeps a machine to a single running instance.
package daemon
