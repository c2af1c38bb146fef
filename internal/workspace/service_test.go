package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/backend"
	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

type recordingIndexer struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingIndexer) Enqueue(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recordingIndexer) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func newTestService(t *testing.T) (*Service, *backend.Memory, *recordingIndexer) {
	t.Helper()
	store := backend.NewMemory()
	indexer := &recordingIndexer{}
	svc := NewService(Config{}, store, indexer, nil)
	return svc, store, indexer
}

func agentPath(rel string) scope.Path {
	return scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1", RelativePath: rel}
}

func sessionPath(rel string) scope.Path {
	return scope.Path{ScopeType: scope.TypeSession, OwnerID: "s-1", RelativePath: rel}
}

func TestSetGet(t *testing.T) {
	svc, _, indexer := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Set(ctx, agentPath("notes/a.txt"), []byte("hello"), WriteOptions{
		Meta: map[string]string{"author": "u-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultContentType, entry.ContentType)
	assert.True(t, entry.ExpiresAt.IsZero(), "agent entries get no default TTL")
	assert.False(t, entry.Embedded)

	got, err := svc.Get(ctx, agentPath("notes/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Value)
	assert.Equal(t, map[string]string{"author": "u-1"}, got.Meta)
	assert.Equal(t, 5, got.Size())

	assert.Equal(t, []string{"/agent/a-1/notes/a.txt"}, indexer.Keys())

	_, err = svc.Get(ctx, agentPath("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetValidatesPath(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Set(context.Background(), agentPath("../escape"), []byte("v"), WriteOptions{})
	require.ErrorIs(t, err, scope.ErrInvalidScope)
}

func TestSessionDefaultTTL(t *testing.T) {
	store := backend.NewMemory()
	svc := NewService(Config{SessionTTL: time.Hour}, store, nil, nil)
	ctx := context.Background()

	entry, err := svc.Set(ctx, sessionPath("scratch"), []byte("v"), WriteOptions{})
	require.NoError(t, err)
	require.False(t, entry.ExpiresAt.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), entry.ExpiresAt, time.Minute)

	// An explicit TTL overrides the session default.
	entry, err = svc.Set(ctx, sessionPath("long"), []byte("v"), WriteOptions{TTL: 48 * time.Hour})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), entry.ExpiresAt, time.Minute)
}

func TestLazyExpiry(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	_, err := svc.Set(ctx, agentPath("tmp"), []byte("v"), WriteOptions{TTL: time.Minute})
	require.NoError(t, err)

	timeNow = func() time.Time { return base.Add(2 * time.Minute) }

	// The read sees nothing and physically purges the entry.
	_, err = svc.Get(ctx, agentPath("tmp"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "/agent/a-1/tmp")
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestDeleteExpiredReportsFalse(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	_, err := svc.Set(ctx, agentPath("tmp"), []byte("v"), WriteOptions{TTL: time.Minute})
	require.NoError(t, err)

	timeNow = func() time.Time { return base.Add(2 * time.Minute) }

	removed, err := svc.Delete(ctx, agentPath("tmp"))
	require.NoError(t, err)
	assert.False(t, removed, "deleting an expired entry is not observable removal")

	removed, err = svc.Delete(ctx, agentPath("tmp"))
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, agentPath("x"), []byte("v"), WriteOptions{})
	require.NoError(t, err)

	removed, err := svc.Delete(ctx, agentPath("x"))
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err := svc.Exists(ctx, agentPath("x"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRelativePaths(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, rel := range []string{"notes/b.txt", "notes/a.txt", "state.json"} {
		_, err := svc.Set(ctx, agentPath(rel), []byte("v"), WriteOptions{})
		require.NoError(t, err)
	}
	_, err := svc.Set(ctx, sessionPath("other"), []byte("v"), WriteOptions{})
	require.NoError(t, err)

	rels, err := svc.List(ctx, scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.txt", "notes/b.txt", "state.json"}, rels)

	rels, err = svc.List(ctx, scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1", RelativePath: "notes/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.txt", "notes/b.txt"}, rels)

	_, err = svc.List(ctx, scope.Path{ScopeType: scope.TypeAgent})
	require.ErrorIs(t, err, scope.ErrInvalidScope)
}

func TestClear(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, rel := range []string{"a", "b", "c"} {
		_, err := svc.Set(ctx, agentPath(rel), []byte("v"), WriteOptions{})
		require.NoError(t, err)
	}
	_, err := svc.Set(ctx, sessionPath("keep"), []byte("v"), WriteOptions{})
	require.NoError(t, err)

	owner := scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1"}

	_, err = svc.Clear(ctx, owner, false)
	require.ErrorIs(t, err, ErrConfirmationRequired)

	removed, err := svc.Clear(ctx, owner, true)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	rels, err := svc.List(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, rels)

	ok, err := svc.Exists(ctx, sessionPath("keep"))
	require.NoError(t, err)
	assert.True(t, ok, "clear must not cross scope owners")
}

func TestClearHonorsPathPrefix(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, rel := range []string{"notes/a", "notes/b", "state.json"} {
		_, err := svc.Set(ctx, agentPath(rel), []byte("v"), WriteOptions{})
		require.NoError(t, err)
	}

	removed, err := svc.Clear(ctx, scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1", RelativePath: "notes/"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	rels, err := svc.List(ctx, scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"state.json"}, rels, "entries outside the prefix survive")
}

func TestExportImport(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, agentPath("notes/a.txt"), []byte("alpha"), WriteOptions{
		ContentType: "text/markdown",
		Meta:        map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	_, err = svc.Set(ctx, agentPath("state.json"), []byte(`{}`), WriteOptions{ContentType: "application/json"})
	require.NoError(t, err)

	snap, err := svc.Export(ctx, scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1"})
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap["notes/a.txt"].Value)
	assert.Equal(t, "text/markdown", snap["notes/a.txt"].ContentType)
	assert.Equal(t, map[string]string{"k": "v"}, snap["notes/a.txt"].Meta)

	// Import into a fresh owner.
	target := scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-2"}
	written, err := svc.Import(ctx, target, snap, false)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	got, err := svc.Get(ctx, scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-2", RelativePath: "notes/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got.Value)
	assert.Equal(t, "text/markdown", got.ContentType)

	// Re-import without overwrite skips everything.
	written, err = svc.Import(ctx, target, snap, false)
	require.NoError(t, err)
	assert.Equal(t, 0, written)

	// Overwrite rewrites.
	snap["notes/a.txt"] = ExportedEntry{Value: "beta"}
	written, err = svc.Import(ctx, target, snap, true)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	got, err = svc.Get(ctx, scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-2", RelativePath: "notes/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), got.Value)
}

func TestImportRejectsInvalidRelativePath(t *testing.T) {
	svc, _, _ := newTestService(t)

	snap := Snapshot{"../escape": ExportedEntry{Value: "v"}}
	_, err := svc.Import(context.Background(), scope.Path{ScopeType: scope.TypeAgent, OwnerID: "a-1"}, snap, false)
	require.ErrorIs(t, err, scope.ErrInvalidScope)
}

func TestMovePreservesCreatedAt(t *testing.T) {
	svc, store, indexer := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	_, err := svc.Set(ctx, agentPath("src"), []byte("v"), WriteOptions{})
	require.NoError(t, err)

	// Simulate the indexer having attached an embedding.
	obj, err := store.Get(ctx, "/agent/a-1/src")
	require.NoError(t, err)
	obj.Embedding = []float32{1, 0}
	obj.EmbeddedAt = base
	require.NoError(t, store.Put(ctx, "/agent/a-1/src", obj))

	timeNow = func() time.Time { return base.Add(time.Hour) }

	require.NoError(t, svc.Move(ctx, agentPath("src"), agentPath("dst")))

	_, err = svc.Get(ctx, agentPath("src"))
	require.ErrorIs(t, err, ErrNotFound)

	moved, err := svc.Get(ctx, agentPath("dst"))
	require.NoError(t, err)
	assert.True(t, moved.CreatedAt.Equal(base), "move keeps the original creation time")
	assert.True(t, moved.Embedded, "move keeps the embedding")

	// The embedding traveled with the entry, so nothing new to index.
	assert.Equal(t, []string{"/agent/a-1/src"}, indexer.Keys())
}

func TestCopyResetsCreatedAt(t *testing.T) {
	svc, _, indexer := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	_, err := svc.Set(ctx, agentPath("src"), []byte("v"), WriteOptions{})
	require.NoError(t, err)

	timeNow = func() time.Time { return base.Add(time.Hour) }

	require.NoError(t, svc.Copy(ctx, agentPath("src"), agentPath("dst")))

	src, err := svc.Get(ctx, agentPath("src"))
	require.NoError(t, err)
	assert.True(t, src.CreatedAt.Equal(base))

	dst, err := svc.Get(ctx, agentPath("dst"))
	require.NoError(t, err)
	assert.True(t, dst.CreatedAt.Equal(base.Add(time.Hour)), "copy is a fresh version")

	// Unembedded copy goes to the indexer.
	assert.Contains(t, indexer.Keys(), "/agent/a-1/dst")
}

func TestTransferMissingSource(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Move(context.Background(), agentPath("ghost"), agentPath("dst"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileRef(t *testing.T) {
	value, err := NewFileRefValue(FileRef{URI: "s3://bucket/report.pdf", Description: "Q1 revenue report", SizeBytes: 1024})
	require.NoError(t, err)

	ref, err := ParseFileRef(value)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/report.pdf", ref.URI)
	assert.Equal(t, "Q1 revenue report", ref.Description)
	assert.Equal(t, int64(1024), ref.SizeBytes)

	_, err = NewFileRefValue(FileRef{Description: "no uri"})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = ParseFileRef([]byte("not json"))
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = ParseFileRef([]byte(`{"description":"x"}`))
	require.ErrorIs(t, err, ErrInvalidValue)
}
