package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/backend"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/identity"
	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

// vectorEmbedder maps known query strings to fixed vectors.
type vectorEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (v *vectorEmbedder) Embed(_ context.Context, text string, _ embeddings.Tenant) ([]float32, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	if vec, ok := v.vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0, 0}, nil
}

// failingBackend wraps a Backend and fails vector searches under one prefix.
type failingBackend struct {
	backend.Backend
	failPrefix string
}

func (f *failingBackend) VectorSearch(ctx context.Context, vector []float32, prefix string, topK int) ([]backend.Match, error) {
	if strings.HasPrefix(prefix, f.failPrefix) {
		return nil, errors.New("shard offline")
	}
	return f.Backend.VectorSearch(ctx, vector, prefix, topK)
}

func newTestDirectory(t *testing.T) *identity.Static {
	t.Helper()
	dir, err := identity.NewStatic("org-1",
		[]identity.Principal{
			{ID: "t-platform", Name: "Platform", Members: []string{"u-1"}},
			{ID: "t-infra", Name: "Infra", Members: []string{"u-1"}},
		},
		[]identity.Principal{
			{ID: "a-1", Name: "triage-bot"},
			{ID: "a-2", Name: "review-bot"},
		})
	require.NoError(t, err)
	return dir
}

func seed(t *testing.T, store *backend.Memory, key string, emb []float32) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), key, backend.Object{
		Data:      []byte("v"),
		Embedding: emb,
	}))
}

func TestSearchSingleScope(t *testing.T) {
	store := backend.NewMemory()
	seed(t, store, "/organization/acme/notes/a.txt", []float32{1, 0, 0})
	seed(t, store, "/organization/acme/notes/b.txt", []float32{0, 1, 0})

	svc := NewService(Config{}, store, &vectorEmbedder{}, newTestDirectory(t), nil)
	caller := Caller{UserID: "u-1", OrganizationID: "org-1"}

	results, err := svc.Search(context.Background(), caller,
		scope.Path{ScopeType: scope.TypeOrganization, OwnerID: "acme"}, "query", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "notes/a.txt", results[0].RelativePath)
	assert.Equal(t, "/organization/acme/notes/a.txt", results[0].Key())
	assert.Greater(t, results[0].Score, results[1].Score)

	_, err = svc.Search(context.Background(), caller, scope.Path{ScopeType: scope.TypeOrganization, OwnerID: "acme"}, "", 10, 0)
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearchResultsCarryEntryMetadata(t *testing.T) {
	store := backend.NewMemory()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(context.Background(), "/agent/a-1/notes/pinned.md", backend.Object{
		Data:        []byte("v"),
		ContentType: "text/markdown",
		Meta:        map[string]string{"author": "triage-bot"},
		CreatedAt:   created,
		Embedding:   []float32{1, 0, 0},
	}))

	svc := NewService(Config{}, store, &vectorEmbedder{}, newTestDirectory(t), nil)

	results, err := svc.Search(context.Background(), Caller{OrganizationID: "org-1"},
		scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1"}, "query", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "text/markdown", results[0].ContentType)
	assert.True(t, created.Equal(results[0].CreatedAt))
	assert.Equal(t, map[string]string{"author": "triage-bot"}, results[0].Meta)
}

func TestSearchMinScore(t *testing.T) {
	store := backend.NewMemory()
	seed(t, store, "/organization/acme/close", []float32{1, 0, 0})
	seed(t, store, "/organization/acme/far", []float32{0, 1, 0})

	svc := NewService(Config{}, store, &vectorEmbedder{}, newTestDirectory(t), nil)

	results, err := svc.Search(context.Background(), Caller{OrganizationID: "org-1"},
		scope.Path{ScopeType: scope.TypeOrganization, OwnerID: "acme"}, "query", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].RelativePath)
}

func TestSearchMultiValidation(t *testing.T) {
	svc := NewService(Config{}, backend.NewMemory(), &vectorEmbedder{}, newTestDirectory(t), nil)
	caller := Caller{UserID: "u-1", OrganizationID: "org-1"}

	_, err := svc.SearchMulti(context.Background(), caller, Query{Scopes: []Selector{{AllAgents: true}}})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.SearchMulti(context.Background(), caller, Query{Text: "x"})
	require.ErrorIs(t, err, ErrNoScopes)

	_, err = svc.SearchMulti(context.Background(), caller, Query{Text: "x", Scopes: []Selector{{}}})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearchMultiMergesAndDedups(t *testing.T) {
	store := backend.NewMemory()
	// Same relative path in two scopes with different similarity, each
	// tagged with its origin so the dedup winner is observable.
	for owner, emb := range map[string][]float32{
		"a-1": {0.9, 0.44, 0},
		"a-2": {1, 0, 0},
	} {
		require.NoError(t, store.Put(context.Background(), "/agent/"+owner+"/notes/shared.md", backend.Object{
			Data:      []byte("v"),
			Meta:      map[string]string{"origin": owner},
			Embedding: emb,
		}))
	}
	seed(t, store, "/agent/a-1/notes/only-here.md", []float32{0.8, 0.6, 0})

	embedder := &vectorEmbedder{}
	svc := NewService(Config{}, store, embedder, newTestDirectory(t), nil)
	caller := Caller{UserID: "u-1", OrganizationID: "org-1"}

	res, err := svc.SearchMulti(context.Background(), caller, Query{
		Text:   "query",
		Scopes: []Selector{{AllAgents: true}},
	})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Results, 2)

	// The winning copy of the shared path is the higher-scoring scope, and
	// its metadata comes along.
	assert.Equal(t, "notes/shared.md", res.Results[0].RelativePath)
	assert.Equal(t, "a-2", res.Results[0].Scope.OwnerID)
	assert.Equal(t, "a-2", res.Results[0].Meta["origin"])
	assert.Equal(t, "notes/only-here.md", res.Results[1].RelativePath)

	assert.Equal(t, 1, embedder.calls, "query embedded exactly once")
}

func TestSearchMultiTieKeepsFirstResolvedScope(t *testing.T) {
	store := backend.NewMemory()
	seed(t, store, "/agent/a-1/doc.md", []float32{1, 0, 0})
	seed(t, store, "/agent/a-2/doc.md", []float32{1, 0, 0})

	svc := NewService(Config{}, store, &vectorEmbedder{}, newTestDirectory(t), nil)

	res, err := svc.SearchMulti(context.Background(), Caller{UserID: "u-1", OrganizationID: "org-1"}, Query{
		Text: "query",
		Scopes: []Selector{
			{ScopeType: scope.TypeAgent, OwnerID: "a-2"},
			{ScopeType: scope.TypeAgent, OwnerID: "a-1"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "a-2", res.Results[0].Scope.OwnerID, "equal scores keep the first resolved scope")
}

func TestSearchMultiAbsorbsBranchFailures(t *testing.T) {
	store := backend.NewMemory()
	seed(t, store, "/agent/a-1/ok.md", []float32{1, 0, 0})

	be := &failingBackend{Backend: store, failPrefix: "/agent/a-2/"}
	svc := NewService(Config{}, be, &vectorEmbedder{}, newTestDirectory(t), nil)

	res, err := svc.SearchMulti(context.Background(), Caller{UserID: "u-1", OrganizationID: "org-1"}, Query{
		Text:   "query",
		Scopes: []Selector{{AllAgents: true}},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "ok.md", res.Results[0].RelativePath)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "a-2", res.Failed[0].Scope.OwnerID)
	assert.Contains(t, res.Failed[0].Reason, "shard offline")
}

func TestSearchMultiEmbeddingFailureAborts(t *testing.T) {
	svc := NewService(Config{}, backend.NewMemory(), &vectorEmbedder{err: errors.New("provider down")},
		newTestDirectory(t), nil)

	_, err := svc.SearchMulti(context.Background(), Caller{UserID: "u-1", OrganizationID: "org-1"}, Query{
		Text:   "query",
		Scopes: []Selector{{AllAgents: true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding query")
}

func TestSearchMultiExpandsTeams(t *testing.T) {
	store := backend.NewMemory()
	seed(t, store, "/team/t-platform/runbook.md", []float32{1, 0, 0})
	seed(t, store, "/team/t-infra/runbook.md", []float32{0.9, 0.44, 0})
	seed(t, store, "/team/t-other/secret.md", []float32{1, 0, 0})

	svc := NewService(Config{}, store, &vectorEmbedder{}, newTestDirectory(t), nil)

	res, err := svc.SearchMulti(context.Background(), Caller{UserID: "u-1", OrganizationID: "org-1"}, Query{
		Text:   "query",
		Scopes: []Selector{{AllTeams: true}},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1, "same relative path dedups across the user's teams")
	assert.Equal(t, "t-platform", res.Results[0].Scope.OwnerID)

	for _, r := range res.Results {
		assert.NotEqual(t, "t-other", r.Scope.OwnerID, "non-member teams are never searched")
	}
}

func TestSearchMultiNoMatchingScopes(t *testing.T) {
	svc := NewService(Config{}, backend.NewMemory(), &vectorEmbedder{}, newTestDirectory(t), nil)

	// u-9 belongs to no teams: the expansion is legitimately empty.
	res, err := svc.SearchMulti(context.Background(), Caller{UserID: "u-9", OrganizationID: "org-1"}, Query{
		Text:   "query",
		Scopes: []Selector{{AllTeams: true}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Empty(t, res.Failed)
}

func TestSearchMultiDedupsSelectors(t *testing.T) {
	store := backend.NewMemory()
	seed(t, store, "/agent/a-1/doc.md", []float32{1, 0, 0})

	svc := NewService(Config{}, store, &vectorEmbedder{}, newTestDirectory(t), nil)

	res, err := svc.SearchMulti(context.Background(), Caller{UserID: "u-1", OrganizationID: "org-1"}, Query{
		Text: "query",
		Scopes: []Selector{
			{ScopeType: scope.TypeAgent, OwnerID: "a-1"},
			{AllAgents: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
}

func TestMergeBranches(t *testing.T) {
	branches := [][]Result{
		{
			{RelativePath: "a", Score: 0.81},
			{RelativePath: "b", Score: 0.70},
		},
		{
			{RelativePath: "a", Score: 0.93},
			{RelativePath: "c", Score: 0.50},
		},
	}

	merged := mergeBranches(branches, 10)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].RelativePath)
	assert.InDelta(t, 0.93, merged[0].Score, 1e-6)
	assert.Equal(t, "b", merged[1].RelativePath)
	assert.Equal(t, "c", merged[2].RelativePath)

	merged = mergeBranches(branches, 2)
	assert.Len(t, merged, 2)

	assert.Empty(t, mergeBranches(nil, 5))
}
