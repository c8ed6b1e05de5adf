// Package vectorstore defines the derived, eventually-consistent vector
// index (spec.md §4.2) behind one interface with two implementations: an
// HTTPStore talking to an external vector database over HTTP, and an
// Embedded store built on the teacher's in-process HNSW graph
// (github.com/fogfish/hnsw + github.com/kshard/vector) for single-binary
// deployments that don't want to run a separate vector service.
package vectorstore

import (
	"context"
	"errors"
)

// Hit is one nearest-neighbor result.
type Hit struct {
	ID       string
	Score    float64 // cosine similarity, higher is better
	Metadata map[string]string
}

// Filter narrows a Query to vectors whose metadata matches every entry.
type Filter map[string]string

// Store is the derived vector index. Every message (and summary) embedding
// lives here keyed by its own UUID; the Relational Store remains the source
// of truth for the content itself.
type Store interface {
	// Upsert inserts or replaces the vector for id.
	Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error
	// Query returns the topK nearest neighbors to vec, optionally filtered.
	Query(ctx context.Context, vec []float32, topK int, filter Filter) ([]Hit, error)
	// Delete removes a single vector by id. Deleting an id that is not
	// present is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteWhere removes every vector whose metadata matches filter,
	// used to cascade a conversation delete to its message embeddings.
	DeleteWhere(ctx context.Context, filter Filter) error
	// Ping checks reachability for health checks and the embedder/summarizer
	// dependency probes exposed over /health.
	Ping(ctx context.Context) error
	Close() error
}

var (
	// ErrUnavailable means the vector store could not be reached at all
	// (network, timeout, 5xx) — retryable by the Embedding Queue.
	ErrUnavailable = errors.New("vector store unavailable")
	// ErrRejected means the vector store reached but refused the request
	// (bad dimension, malformed filter) — not retryable.
	ErrRejected = errors.New("vector store rejected request")
	// ErrNotFound is returned by Delete when the backend distinguishes
	// missing keys from other 4xx failures; Store.Delete implementations are
	// not required to surface it as an error.
	ErrNotFound = errors.New("vector not found")
)
