// Package backend defines the storage collaborator interface for the
// workspace store, plus the bundled implementations.
//
// A Backend persists opaque objects keyed by canonical workspace keys and
// answers approximate vector queries over the objects that carry embeddings.
// It has no knowledge of workspace semantics beyond expiry: List and
// VectorSearch exclude expired objects, Get returns them raw so the caller
// can apply lazy-expiry policy.
//
// Implementations:
//   - Memory: in-process map, brute-force cosine search. Tests and dev.
//   - Local: objects as files on disk, vectors in an embedded chromem-go
//     index. Default for single-node deployments.
//   - Qdrant: objects and vectors as Qdrant points over gRPC. Production.
package backend

import (
	"context"
	"errors"
	"math"
	"time"
)

// Sentinel errors for backend operations.
var (
	// ErrNotFound is returned when a key has no stored object.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidPrefix indicates a prefix that does not address a scope.
	ErrInvalidPrefix = errors.New("prefix does not address a scope")
)

// Object is a stored workspace entry as the backend sees it.
type Object struct {
	// Data is the entry value bytes.
	Data []byte `json:"data"`

	// ContentType describes Data ("text/plain", "application/json").
	ContentType string `json:"content_type"`

	// Meta carries caller-provided metadata such as creation context.
	Meta map[string]string `json:"meta,omitempty"`

	// CreatedAt is when this version of the object was written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt marks lazy expiry. Zero means the object never expires.
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// Embedding is the semantic vector, attached asynchronously after the
	// write. Nil until indexing completes.
	Embedding []float32 `json:"embedding,omitempty"`

	// EmbeddedAt is when Embedding was computed.
	EmbeddedAt time.Time `json:"embedded_at,omitzero"`
}

// Expired reports whether the object is past its expiry at the given time.
func (o Object) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Match is a vector query hit.
type Match struct {
	// Key is the canonical key of the matched object.
	Key string

	// Score is the cosine similarity to the query vector (higher = closer).
	Score float32
}

// Backend is the pluggable storage collaborator.
//
// Keys are canonical workspace keys (UTF-8, '/'-separated scope segments).
// Implementations must be safe for concurrent use.
type Backend interface {
	// Put stores or replaces the object at key.
	Put(ctx context.Context, key string, obj Object) error

	// Get returns the object at key, expired or not.
	// Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (Object, error)

	// Delete removes the object at key. Returns true iff something was
	// removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether a non-expired object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys of all non-expired objects whose canonical key
	// starts with prefix. Ordering is unspecified but stable within a call.
	List(ctx context.Context, prefix string) ([]string, error)

	// VectorSearch returns up to topK non-expired, embedded objects under
	// prefix, scored by cosine similarity to the query vector, highest
	// first. The prefix must address at least a scope owner
	// ("/agent/a-1/..."); implementations may reject broader prefixes with
	// ErrInvalidPrefix.
	VectorSearch(ctx context.Context, vector []float32, prefix string, topK int) ([]Match, error)

	// Close releases backend resources.
	Close() error
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
