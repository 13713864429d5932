// Package store provides pluggable CheckpointManager backends for
// workflow runs: an in-memory store for tests and development, and
// SQL-backed stores (SQLite, MySQL) for durable, resumable runs.
package store

import "errors"

// ErrNotFound is returned by Load when no checkpoint exists for a runID.
var ErrNotFound = errors.New("store: checkpoint not found")
