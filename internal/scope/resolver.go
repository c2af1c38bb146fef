package scope

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Identity is the external identity and membership collaborator.
//
// Implementations map human-readable owner references to internal IDs and
// enumerate scope owners for multi-scope expansion. Resolution is
// case-insensitive-exact-match first, falling back to normalized-name match;
// ambiguity or no match is an error, never a silent default.
type Identity interface {
	// ResolveOwner maps an identifier or name to an internal owner ID for
	// the given scope type within an organization.
	ResolveOwner(ctx context.Context, scopeType Type, ref, orgID string) (string, error)

	// ListTeamsForUser returns the IDs of every team the user belongs to.
	ListTeamsForUser(ctx context.Context, userID string) ([]string, error)

	// ListAgentsForOrganization returns the IDs of every agent owned by the
	// organization.
	ListAgentsForOrganization(ctx context.Context, orgID string) ([]string, error)

	// OrganizationFor resolves a scope owner upward to its owning
	// organization. Organization owners resolve to themselves.
	OrganizationFor(ctx context.Context, scopeType Type, ownerID string) (string, error)
}

// Resolver turns (scopeType, owner reference, relativePath) tuples into
// validated Paths, delegating owner-name resolution to the Identity
// collaborator for agent and team scopes.
type Resolver struct {
	identity Identity
	logger   *zap.Logger
}

// NewResolver creates a Resolver. identity is required; logger may be nil.
func NewResolver(identity Identity, logger *zap.Logger) (*Resolver, error) {
	if identity == nil {
		return nil, fmt.Errorf("identity resolver cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{identity: identity, logger: logger}, nil
}

// Resolve builds a validated Path for the given scope, owner reference, and
// relative path. For agent and team scopes the owner reference may be a
// human-readable name; organization and session owners are used as-is.
func (r *Resolver) Resolve(ctx context.Context, scopeType Type, ownerRef, relativePath, orgID string) (Path, error) {
	ownerID, err := r.ResolveOwnerID(ctx, scopeType, ownerRef, orgID)
	if err != nil {
		return Path{}, err
	}
	p := Path{ScopeType: scopeType, OwnerID: ownerID, RelativePath: relativePath}
	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}

// ResolveOwnerID resolves an owner reference to an internal owner ID.
func (r *Resolver) ResolveOwnerID(ctx context.Context, scopeType Type, ownerRef, orgID string) (string, error) {
	if !scopeType.Valid() {
		return "", fmt.Errorf("%w: unknown scope type %q", ErrInvalidScope, scopeType)
	}
	if ownerRef == "" {
		return "", fmt.Errorf("%w: owner reference required", ErrInvalidScope)
	}

	switch scopeType {
	case TypeAgent, TypeTeam:
		id, err := r.identity.ResolveOwner(ctx, scopeType, ownerRef, orgID)
		if err != nil {
			r.logger.Debug("owner resolution failed",
				zap.String("scope_type", string(scopeType)),
				zap.String("ref", ownerRef),
				zap.Error(err))
			return "", fmt.Errorf("%w: %s %q: %v", ErrUnresolvableOwner, scopeType, ownerRef, err)
		}
		return id, nil
	default:
		// Organization and session owners are already internal IDs.
		return ownerRef, nil
	}
}
