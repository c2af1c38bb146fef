// Package identity provides a static, in-process implementation of the
// identity and membership collaborator, configured at startup.
//
// It exists for local and single-org deployments where no external identity
// provider is available. Production deployments substitute an implementation
// backed by the organization directory.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

// Sentinel errors for directory lookups.
var (
	// ErrNoMatch indicates no principal matched the reference.
	ErrNoMatch = errors.New("no matching principal")

	// ErrAmbiguous indicates more than one principal matched the reference.
	ErrAmbiguous = errors.New("ambiguous principal reference")

	// ErrUnknownPrincipal indicates an owner ID with no directory record.
	ErrUnknownPrincipal = errors.New("unknown principal")
)

// Principal is a directory record for a team or agent.
type Principal struct {
	// ID is the internal identifier.
	ID string `koanf:"id"`

	// Name is the human-readable name ("Platform Team", "triage-bot").
	Name string `koanf:"name"`

	// OrgID is the owning organization.
	OrgID string `koanf:"org_id"`

	// Members lists user IDs for team principals.
	Members []string `koanf:"members"`
}

// Static is an in-memory scope.Identity implementation.
type Static struct {
	orgID  string
	teams  []Principal
	agents []Principal
}

// NewStatic creates a Static directory for a single organization.
func NewStatic(orgID string, teams, agents []Principal) (*Static, error) {
	if orgID == "" {
		return nil, fmt.Errorf("organization ID required")
	}
	s := &Static{orgID: orgID}
	for _, t := range teams {
		if t.OrgID == "" {
			t.OrgID = orgID
		}
		s.teams = append(s.teams, t)
	}
	for _, a := range agents {
		if a.OrgID == "" {
			a.OrgID = orgID
		}
		s.agents = append(s.agents, a)
	}
	return s, nil
}

// ResolveOwner maps an identifier or name to an internal owner ID.
//
// Matching order: exact ID, case-insensitive exact name, normalized name.
// Within each stage an ambiguous match is an error, never a silent pick.
func (s *Static) ResolveOwner(ctx context.Context, scopeType scope.Type, ref, orgID string) (string, error) {
	pool, err := s.pool(scopeType)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNoMatch)
	}
	if orgID == "" {
		orgID = s.orgID
	}

	// Exact ID match wins outright.
	for _, p := range pool {
		if p.OrgID == orgID && p.ID == ref {
			return p.ID, nil
		}
	}

	if id, err := matchByName(pool, orgID, ref, strings.EqualFold); err != nil || id != "" {
		return id, err
	}

	norm := NormalizeName(ref)
	id, err := matchByName(pool, orgID, norm, func(name, ref string) bool {
		return NormalizeName(name) == ref
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s %q in org %q", ErrNoMatch, scopeType, ref, orgID)
	}
	return id, nil
}

func matchByName(pool []Principal, orgID, ref string, eq func(name, ref string) bool) (string, error) {
	var found []string
	for _, p := range pool {
		if p.OrgID == orgID && eq(p.Name, ref) {
			found = append(found, p.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d principals", ErrAmbiguous, ref, len(found))
	}
}

// ListTeamsForUser returns the IDs of every team the user is a member of.
func (s *Static) ListTeamsForUser(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user ID", ErrNoMatch)
	}
	var teams []string
	for _, t := range s.teams {
		for _, m := range t.Members {
			if m == userID {
				teams = append(teams, t.ID)
				break
			}
		}
	}
	return teams, nil
}

// ListAgentsForOrganization returns the IDs of every agent the organization owns.
func (s *Static) ListAgentsForOrganization(ctx context.Context, orgID string) ([]string, error) {
	if orgID == "" {
		orgID = s.orgID
	}
	var agents []string
	for _, a := range s.agents {
		if a.OrgID == orgID {
			agents = append(agents, a.ID)
		}
	}
	return agents, nil
}

// OrganizationFor resolves a scope owner upward to its owning organization.
//
// Organization owners self-resolve. Session owners attribute to the
// directory's organization; the session service owns the session-to-user
// mapping and is not modeled here.
func (s *Static) OrganizationFor(ctx context.Context, scopeType scope.Type, ownerID string) (string, error) {
	switch scopeType {
	case scope.TypeOrganization:
		return ownerID, nil
	case scope.TypeSession:
		return s.orgID, nil
	case scope.TypeTeam, scope.TypeAgent:
		pool, err := s.pool(scopeType)
		if err != nil {
			return "", err
		}
		for _, p := range pool {
			if p.ID == ownerID {
				return p.OrgID, nil
			}
		}
		return "", fmt.Errorf("%w: %s %q", ErrUnknownPrincipal, scopeType, ownerID)
	default:
		return "", fmt.Errorf("%w: %s %q", ErrUnknownPrincipal, scopeType, ownerID)
	}
}

func (s *Static) pool(scopeType scope.Type) ([]Principal, error) {
	switch scopeType {
	case scope.TypeTeam:
		return s.teams, nil
	case scope.TypeAgent:
		return s.agents, nil
	default:
		return nil, fmt.Errorf("%w: scope type %q has no directory", ErrNoMatch, scopeType)
	}
}

// NormalizeName lowercases a name and collapses separators and punctuation
// to single dashes, so "Platform Team" matches "platform-team".
func NormalizeName(name string) string {
	var b strings.Builder
	lastDash := true // trim leading dashes
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

var _ scope.Identity = (*Static)(nil)
