package services

import "errors"

// Error taxonomy. Callers match with errors.Is; the orchestrator maps these
// onto the job record's error_type.
var (
	// ErrValidation marks writes rejected synchronously (bad doc type, wrong
	// embedding length, short summary, missing required content field).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks integrity failures (owner or referenced row missing).
	ErrNotFound = errors.New("not found")

	// ErrConflict marks rejected reprocessing: an active job already exists,
	// or documents exist and force was not supplied.
	ErrConflict = errors.New("conflict")

	// ErrNotReady signals a subject with no completed documents yet.
	ErrNotReady = errors.New("documents not ready")

	// ErrEmbeddingUnavailable is returned together with zero-vector
	// placeholders when the embedding service cannot be reached.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)
