// Package workspace implements the scoped key/value store for agent
// working state. Entries are addressed by scope paths, carry optional
// TTLs, and are indexed for semantic search in the background.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

var (
	// ErrNotFound indicates no live entry exists at the addressed path.
	ErrNotFound = errors.New("workspace entry not found")

	// ErrConfirmationRequired indicates a destructive scope-wide operation
	// was requested without explicit confirmation.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrInvalidValue indicates a value that cannot be stored.
	ErrInvalidValue = errors.New("invalid value")
)

// DefaultContentType is assumed for entries written without one.
const DefaultContentType = "text/plain; charset=utf-8"

// ContentTypeFileRef marks entries whose value is a FileRef record rather
// than inline content.
const ContentTypeFileRef = "application/vnd.workspaced.fileref+json"

// Entry is a stored workspace value with its metadata.
type Entry struct {
	// Scope addresses the entry.
	Scope scope.Path

	// Value is the stored content.
	Value []byte

	// ContentType describes Value.
	ContentType string

	// Meta carries caller-supplied annotations.
	Meta map[string]string

	// CreatedAt is when this entry version was written.
	CreatedAt time.Time

	// ExpiresAt is the expiry deadline, zero for no expiry.
	ExpiresAt time.Time

	// Embedded reports whether the background indexer has attached an
	// embedding to this entry version.
	Embedded bool

	// EmbeddedAt is when the embedding was attached.
	EmbeddedAt time.Time
}

// Key returns the entry's canonical key.
func (e Entry) Key() string {
	return e.Scope.Key()
}

// Size returns the stored value length in bytes.
func (e Entry) Size() int {
	return len(e.Value)
}

// FileRef points at externally stored bytes instead of inlining them.
// The Description is what gets indexed for semantic search.
type FileRef struct {
	URI         string `json:"uri"`
	Description string `json:"description"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// NewFileRefValue encodes a FileRef for storage.
func NewFileRefValue(ref FileRef) ([]byte, error) {
	if ref.URI == "" {
		return nil, fmt.Errorf("%w: file reference requires a URI", ErrInvalidValue)
	}
	return json.Marshal(ref)
}

// ParseFileRef decodes an entry value written with ContentTypeFileRef.
func ParseFileRef(value []byte) (FileRef, error) {
	var ref FileRef
	if err := json.Unmarshal(value, &ref); err != nil {
		return FileRef{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if ref.URI == "" {
		return FileRef{}, fmt.Errorf("%w: file reference requires a URI", ErrInvalidValue)
	}
	return ref, nil
}

// WriteOptions configures a Set call.
type WriteOptions struct {
	// ContentType describes the value. Defaults to DefaultContentType.
	ContentType string

	// TTL bounds the entry's lifetime. Zero means no expiry, except for
	// session scopes which receive the configured session default.
	TTL time.Duration

	// Meta carries caller-supplied annotations stored with the entry.
	Meta map[string]string
}

// ExportedEntry is the portable form of one entry in an export snapshot.
type ExportedEntry struct {
	Value       string            `json:"value"`
	ContentType string            `json:"content_type,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Snapshot is a serializable dump of a scope subtree, keyed by relative
// path within the exported prefix.
type Snapshot map[string]ExportedEntry
