// Package scope defines the tenancy scopes under which workspace keys are
// namespaced, and the canonical key codec for addressing entries.
//
// A canonical key has the form:
//
//	/{scopeType}/{ownerID}/{relativePath}
//
// Canonicalization is total and reversible: ParseKey is the exact left
// inverse of Path.Key for any valid Path. Raw key strings must never be
// pattern-matched outside this package.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for scope validation and owner resolution.
var (
	// ErrInvalidScope indicates a malformed scope type, owner, or key.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrUnresolvableOwner indicates an owner name or reference that could
	// not be mapped to an identifier.
	ErrUnresolvableOwner = errors.New("unresolvable owner")
)

// Type is a tenancy boundary for workspace keys.
type Type string

const (
	// TypeOrganization scopes entries to a whole organization.
	TypeOrganization Type = "organization"
	// TypeTeam scopes entries to a team within an organization.
	TypeTeam Type = "team"
	// TypeAgent scopes entries to an autonomous agent.
	TypeAgent Type = "agent"
	// TypeSession scopes entries to an interactive session.
	TypeSession Type = "session"
)

// Types lists all valid scope types.
var Types = []Type{TypeOrganization, TypeTeam, TypeAgent, TypeSession}

// Valid reports whether t is a known scope type.
func (t Type) Valid() bool {
	switch t {
	case TypeOrganization, TypeTeam, TypeAgent, TypeSession:
		return true
	}
	return false
}

// Ephemeral reports whether entries under this scope receive a default TTL
// when written without an explicit one.
func (t Type) Ephemeral() bool {
	return t == TypeSession
}

// ParseType parses a scope type string.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown scope type %q", ErrInvalidScope, s)
	}
	return t, nil
}

// Path addresses a workspace entry within a scope.
type Path struct {
	// ScopeType is the tenancy level.
	ScopeType Type

	// OwnerID identifies the scope owner (org, team, agent, or session ID).
	// Must not contain path separators.
	OwnerID string

	// RelativePath is the entry path within the scope. May contain
	// separators ("notes/a.txt").
	RelativePath string
}

// Validate checks that the path can be canonicalized reversibly.
func (p Path) Validate() error {
	if !p.ScopeType.Valid() {
		return fmt.Errorf("%w: unknown scope type %q", ErrInvalidScope, p.ScopeType)
	}
	if p.OwnerID == "" {
		return fmt.Errorf("%w: owner ID required", ErrInvalidScope)
	}
	if strings.Contains(p.OwnerID, "/") {
		return fmt.Errorf("%w: owner ID must not contain '/'", ErrInvalidScope)
	}
	if p.RelativePath == "" {
		return fmt.Errorf("%w: relative path required", ErrInvalidScope)
	}
	if strings.HasPrefix(p.RelativePath, "/") {
		return fmt.Errorf("%w: relative path must not start with '/'", ErrInvalidScope)
	}
	for _, seg := range strings.Split(p.RelativePath, "/") {
		if seg == "" {
			// "a//b" and "a/b" must stay distinct keys; empty segments
			// collapse under filesystem-backed storage.
			return fmt.Errorf("%w: relative path must not contain empty segments", ErrInvalidScope)
		}
		if seg == ".." {
			return fmt.Errorf("%w: relative path must not contain '..'", ErrInvalidScope)
		}
	}
	return nil
}

// Key returns the canonical key for this path.
// The result is only meaningful for paths that pass Validate.
func (p Path) Key() string {
	return "/" + string(p.ScopeType) + "/" + p.OwnerID + "/" + p.RelativePath
}

// Prefix returns the canonical key prefix covering every entry owned by this
// path's scope, ignoring RelativePath.
func (p Path) Prefix() string {
	return "/" + string(p.ScopeType) + "/" + p.OwnerID + "/"
}

// StripPrefix recovers the relative path from a canonical key under this
// path's scope prefix. Returns false if key is outside the scope.
func (p Path) StripPrefix(key string) (string, bool) {
	return strings.CutPrefix(key, p.Prefix())
}

// ParseKey parses a canonical key back into its Path.
// It is the exact left inverse of Path.Key.
func ParseKey(key string) (Path, error) {
	if !strings.HasPrefix(key, "/") {
		return Path{}, fmt.Errorf("%w: key must start with '/': %q", ErrInvalidScope, key)
	}
	parts := strings.SplitN(key[1:], "/", 3)
	if len(parts) != 3 {
		return Path{}, fmt.Errorf("%w: key must have at least three segments: %q", ErrInvalidScope, key)
	}
	p := Path{
		ScopeType:    Type(parts[0]),
		OwnerID:      parts[1],
		RelativePath: parts[2],
	}
	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}

// ParsePrefix parses a canonical key prefix addressing a whole scope
// ("/agent/a-1/" or "/agent/a-1/notes/"). The returned Path carries the
// in-scope path prefix in RelativePath, which may be empty.
func ParsePrefix(prefix string) (Path, error) {
	if !strings.HasPrefix(prefix, "/") {
		return Path{}, fmt.Errorf("%w: prefix must start with '/': %q", ErrInvalidScope, prefix)
	}
	parts := strings.SplitN(prefix[1:], "/", 3)
	if len(parts) < 2 {
		return Path{}, fmt.Errorf("%w: prefix must address a scope owner: %q", ErrInvalidScope, prefix)
	}
	p := Path{ScopeType: Type(parts[0]), OwnerID: parts[1]}
	if len(parts) == 3 {
		p.RelativePath = parts[2]
	}
	if !p.ScopeType.Valid() {
		return Path{}, fmt.Errorf("%w: unknown scope type %q", ErrInvalidScope, p.ScopeType)
	}
	if p.OwnerID == "" {
		return Path{}, fmt.Errorf("%w: owner ID required", ErrInvalidScope)
	}
	return p, nil
}
