// Package search provides semantic search over workspace entries, both
// within a single scope and aggregated across many scopes at once.
package search

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

var (
	// ErrInvalidQuery indicates an empty or malformed search query.
	ErrInvalidQuery = errors.New("invalid search query")

	// ErrNoScopes indicates a multi-scope request that resolved to zero
	// searchable scopes.
	ErrNoScopes = errors.New("no scopes to search")
)

// Caller identifies who is searching, for scope expansion and tenant
// attribution.
type Caller struct {
	// UserID expands AllTeams selectors through team membership.
	UserID string

	// OrganizationID expands AllAgents selectors and attributes embedding
	// cost.
	OrganizationID string
}

// Selector names one scope, or a group of scopes to expand.
type Selector struct {
	// ScopeType with OwnerID addresses one explicit scope.
	ScopeType scope.Type
	OwnerID   string

	// AllAgents expands to every agent in the caller's organization.
	AllAgents bool

	// AllTeams expands to every team the caller belongs to.
	AllTeams bool
}

// Query is a multi-scope search request.
type Query struct {
	// Text is the natural-language query.
	Text string

	// Scopes selects where to search.
	Scopes []Selector

	// Limit caps the merged result count. Default: 10.
	Limit int

	// MinScore drops matches scoring below it.
	MinScore float32
}

// Result is one scored match.
type Result struct {
	// Scope addresses the matched entry.
	Scope scope.Path

	// RelativePath is the entry path within its scope, and the dedup key
	// across scopes.
	RelativePath string

	// Score is the cosine similarity to the query.
	Score float32

	// ContentType, CreatedAt, and Meta carry the matched entry's stored
	// metadata. Cross-scope dedup keeps the winning match's metadata.
	ContentType string
	CreatedAt   time.Time
	Meta        map[string]string
}

// Key returns the matched entry's canonical key.
func (r Result) Key() string {
	return r.Scope.Key()
}

// ScopeFailure records one scope branch that could not be searched.
type ScopeFailure struct {
	// Scope is the owner-level scope that failed.
	Scope scope.Path

	// Reason is the failure description.
	Reason string
}

// MultiResult is the outcome of a multi-scope search. Failed scopes never
// abort the whole search; they are reported here instead.
type MultiResult struct {
	Results []Result
	Failed  []ScopeFailure
}
