// Package registry layers job and batch semantics over the raw document
// store: partial status updates with leave-unchanged fields, progress
// clamping, batch membership bookkeeping, and the pure batch status
// derivation. Every multi-entity change happens inside a single store
// operation so the document always stays internally consistent.
package registry
