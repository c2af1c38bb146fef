package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/backend"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

// Embedder turns query text into a vector. Satisfied by
// *embeddings.Generator.
type Embedder interface {
	Embed(ctx context.Context, text string, tenant embeddings.Tenant) ([]float32, error)
}

// Config configures the search service.
type Config struct {
	// DefaultLimit applies when a query does not set one. Default: 10.
	DefaultLimit int `koanf:"default_limit"`

	// Oversample multiplies the per-scope fetch size during multi-scope
	// fan-out, so cross-scope dedup still fills the merged limit.
	// Default: 2.
	Oversample int `koanf:"oversample"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 10
	}
	if c.Oversample == 0 {
		c.Oversample = 2
	}
}

// Service runs semantic searches against the workspace backend.
type Service struct {
	backend  backend.Backend
	embedder Embedder
	identity scope.Identity
	config   Config
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *Metrics
}

// NewService creates a search service.
func NewService(cfg Config, be backend.Backend, embedder Embedder, identity scope.Identity, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:  be,
		embedder: embedder,
		identity: identity,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		metrics:  NewMetrics(logger),
	}
}

// Search runs a semantic search within one scope. Unlike SearchMulti,
// failures here propagate to the caller.
func (s *Service) Search(ctx context.Context, caller Caller, p scope.Path, text string, limit int, minScore float32) ([]Result, error) {
	ctx, span := s.tracer.Start(ctx, "search.single")
	defer span.End()
	span.SetAttributes(attribute.String("scope_type", string(p.ScopeType)))

	start := time.Now()
	if text == "" {
		return nil, fmt.Errorf("%w: query text required", ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	vector, err := s.embedder.Embed(ctx, text, embeddings.Tenant{OrganizationID: caller.OrganizationID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.searchScope(ctx, vector, p, limit, minScore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.RecordSearch(ctx, "single", 1, 0, time.Since(start))
	return results, nil
}

// SearchMulti fans a query out across every resolved scope and merges the
// branches into one ranked list.
//
// The query is embedded exactly once. A branch that fails or times out is
// absorbed: it contributes nothing and is reported in the result's Failed
// list. Only a failed query embedding aborts the whole search.
func (s *Service) SearchMulti(ctx context.Context, caller Caller, q Query) (MultiResult, error) {
	ctx, span := s.tracer.Start(ctx, "search.multi")
	defer span.End()

	start := time.Now()
	if q.Text == "" {
		return MultiResult{}, fmt.Errorf("%w: query text required", ErrInvalidQuery)
	}
	if len(q.Scopes) == 0 {
		return MultiResult{}, fmt.Errorf("%w: at least one scope selector required", ErrNoScopes)
	}
	if q.Limit <= 0 {
		q.Limit = s.config.DefaultLimit
	}

	resolved, err := s.resolveScopes(ctx, caller, q.Scopes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return MultiResult{}, err
	}
	span.SetAttributes(attribute.Int("scopes", len(resolved)))
	if len(resolved) == 0 {
		// Selectors expanded to nothing, e.g. a user in no teams.
		return MultiResult{}, nil
	}

	vector, err := s.embedder.Embed(ctx, q.Text, embeddings.Tenant{OrganizationID: caller.OrganizationID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return MultiResult{}, fmt.Errorf("embedding query: %w", err)
	}

	perScope := q.Limit * s.config.Oversample

	type branchOutcome struct {
		index   int
		results []Result
		err     error
	}
	outcomes := make(chan branchOutcome, len(resolved))
	for i, sc := range resolved {
		go func(i int, sc scope.Path) {
			results, err := s.searchScope(ctx, vector, sc, perScope, q.MinScore)
			outcomes <- branchOutcome{index: i, results: results, err: err}
		}(i, sc)
	}

	// allSettled join: collect every branch, but stop waiting once the
	// caller's context expires. Abandoned branches drain into the buffered
	// channel and get garbage collected.
	branches := make([][]Result, len(resolved))
	settled := make([]bool, len(resolved))
	var failed []ScopeFailure
	for range resolved {
		select {
		case out := <-outcomes:
			settled[out.index] = true
			if out.err != nil {
				s.logger.Warn("scope search branch failed",
					zap.String("scope", resolved[out.index].Prefix()),
					zap.Error(out.err))
				failed = append(failed, ScopeFailure{Scope: resolved[out.index], Reason: out.err.Error()})
				continue
			}
			branches[out.index] = out.results
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		for i, done := range settled {
			if !done {
				failed = append(failed, ScopeFailure{
					Scope:  resolved[i],
					Reason: fmt.Sprintf("abandoned: %v", ctx.Err()),
				})
			}
		}
	}

	merged := mergeBranches(branches, q.Limit)
	s.metrics.RecordSearch(ctx, "multi", len(resolved), len(failed), time.Since(start))
	return MultiResult{Results: merged, Failed: failed}, nil
}

// searchScope queries the backend under one scope prefix and maps matches
// back to scope paths, loading each retained entry's metadata.
func (s *Service) searchScope(ctx context.Context, vector []float32, p scope.Path, limit int, minScore float32) ([]Result, error) {
	prefix := p.Prefix() + p.RelativePath
	matches, err := s.backend.VectorSearch(ctx, vector, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", prefix, err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		matched, err := scope.ParseKey(m.Key)
		if err != nil {
			s.logger.Warn("skipping unparseable match key",
				zap.String("key", m.Key),
				zap.Error(err))
			continue
		}
		obj, err := s.backend.Get(ctx, m.Key)
		if err != nil {
			// Entry vanished between the vector query and the load.
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("loading %s: %w", m.Key, err)
		}
		results = append(results, Result{
			Scope:        matched,
			RelativePath: matched.RelativePath,
			Score:        m.Score,
			ContentType:  obj.ContentType,
			CreatedAt:    obj.CreatedAt,
			Meta:         obj.Meta,
		})
	}
	return results, nil
}

// resolveScopes expands selectors into concrete owner scopes, deduplicated
// while preserving selector order. Identity expansion failures are hard
// errors; they mean the directory itself is unreachable.
func (s *Service) resolveScopes(ctx context.Context, caller Caller, selectors []Selector) ([]scope.Path, error) {
	var resolved []scope.Path
	seen := make(map[string]bool)
	add := func(p scope.Path) {
		prefix := p.Prefix()
		if !seen[prefix] {
			seen[prefix] = true
			resolved = append(resolved, p)
		}
	}

	for _, sel := range selectors {
		switch {
		case sel.AllAgents:
			agents, err := s.identity.ListAgentsForOrganization(ctx, caller.OrganizationID)
			if err != nil {
				return nil, fmt.Errorf("expanding agent scopes: %w", err)
			}
			for _, id := range agents {
				add(scope.Path{ScopeType: scope.TypeAgent, OwnerID: id})
			}
		case sel.AllTeams:
			teams, err := s.identity.ListTeamsForUser(ctx, caller.UserID)
			if err != nil {
				return nil, fmt.Errorf("expanding team scopes: %w", err)
			}
			for _, id := range teams {
				add(scope.Path{ScopeType: scope.TypeTeam, OwnerID: id})
			}
		default:
			if !sel.ScopeType.Valid() || sel.OwnerID == "" {
				return nil, fmt.Errorf("%w: selector needs a scope type and owner, or a group flag", ErrInvalidQuery)
			}
			add(scope.Path{ScopeType: sel.ScopeType, OwnerID: sel.OwnerID})
		}
	}
	return resolved, nil
}

// mergeBranches deduplicates branch results by relative path, keeping the
// highest score. On a tie the earlier branch wins, so resolved scope order
// is the tie-break. The merged list is sorted by score descending and
// truncated to limit.
func mergeBranches(branches [][]Result, limit int) []Result {
	bestIdx := make(map[string]int)
	var merged []Result
	for _, branch := range branches {
		for _, r := range branch {
			if i, ok := bestIdx[r.RelativePath]; ok {
				if r.Score > merged[i].Score {
					merged[i] = r
				}
				continue
			}
			bestIdx[r.RelativePath] = len(merged)
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
