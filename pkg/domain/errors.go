package domain

import "errors"

// Sentinel errors shared across the service. Handlers map these onto HTTP
// status codes; everything else surfaces as 500.
var (
	// ErrInvalidInput marks client-caused validation failures (400).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks lookup misses for sessions, flow nodes, entities
	// and paths (404).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning is returned when a build is started for a dataset
	// that already has one in state building (409).
	ErrAlreadyRunning = errors.New("build already running")

	// ErrUnsafeQuery is returned when a generated graph query contains a
	// mutating verb. Callers are expected to fall back, never to execute.
	ErrUnsafeQuery = errors.New("unsafe graph query")

	// ErrGenerationFailed wraps LLM completion failures after retries.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrEmbeddingFailed wraps embedding service failures after retries.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreUnavailable wraps graph/vector store connectivity failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)
