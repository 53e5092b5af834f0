package model

import "errors"

// Error taxonomy. Construction and store-path errors surface to callers;
// replication, fallback-tier, and reconciliation failures are absorbed and
// logged at their boundary.
var (
	// ErrNoProviders means no enabled provider exists; the unified store
	// cannot be constructed without a writable primary.
	ErrNoProviders = errors.New("no enabled vector providers available")

	// ErrEmbeddingUnavailable means a store call supplied no embedding and no
	// embedder is configured.
	ErrEmbeddingUnavailable = errors.New("no embedding provided and no embedder configured")

	// ErrStoreFailed wraps the final attempt's error once the primary write
	// retry budget is exhausted.
	ErrStoreFailed = errors.New("store failed after retries")

	// ErrBackendUnavailable is returned by providers whose backing service
	// cannot be reached or is not initialized.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrWriteRejected is returned by providers that reached the backend but
	// had the write refused.
	ErrWriteRejected = errors.New("write rejected by backend")

	// ErrQueryFailed is returned by providers on retrieval failure; the query
	// pipeline recovers by advancing to the next fallback tier.
	ErrQueryFailed = errors.New("query failed")
)
