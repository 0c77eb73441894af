package core

import "errors"

// Error taxonomy. None of these is fatal to the host process: the worst
// case is degraded retrieval, never data loss or a blocked request path.
var (
	// ErrTransientStore marks recoverable store contention (busy, locked).
	// Reads retry with backoff and then degrade to an empty context.
	ErrTransientStore = errors.New("transient store error")

	// ErrIndexCorrupt means the vector index failed its integrity probe
	// and must be rebuilt from the relational store.
	ErrIndexCorrupt = errors.New("vector index corrupt")

	// ErrExtraction means the extraction collaborator failed or returned
	// garbage; the turn's Process call is abandoned after history append.
	ErrExtraction = errors.New("extraction failed")

	// ErrSync means a sync run failed before completion; all affected
	// items remain pending and are retried on the next trigger.
	ErrSync = errors.New("index sync failed")

	// ErrNotFound is returned for operations on unknown item identifiers.
	ErrNotFound = errors.New("memory item not found")
)
