package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

// objectFileSuffix is appended to every persisted object file so that an
// entry "a" and an entry "a/b" can coexist on disk.
const objectFileSuffix = ".obj.json"

// LocalConfig holds configuration for the local filesystem backend.
type LocalConfig struct {
	// Path is the root directory for object files and the vector index.
	// Default: "~/.config/workspaced/store"
	Path string `koanf:"path"`

	// Compress enables gzip compression for the persisted vector index.
	Compress bool `koanf:"compress"`
}

// ApplyDefaults sets default values for unset fields.
func (c *LocalConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/workspaced/store"
	}
}

// Local is a Backend that persists objects as JSON files under a root
// directory and maintains an embedded chromem-go index for vector queries,
// one collection per scope owner.
//
// List walks the object tree and reads candidate files to apply expiry;
// that is acceptable for the single-node deployments this backend targets.
type Local struct {
	root   string
	db     *chromem.DB
	logger *zap.Logger
}

// NewLocal creates a Local backend rooted at cfg.Path.
func NewLocal(cfg LocalConfig, logger *zap.Logger) (*Local, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	root, err := expandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o700); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(root, "index"), cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}

	logger.Info("local backend initialized",
		zap.String("root", root),
		zap.Bool("compress", cfg.Compress))

	return &Local{root: root, db: db, logger: logger}, nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Put stores or replaces the object at key and updates the vector index.
func (l *Local) Put(ctx context.Context, key string, obj Object) error {
	p, err := scope.ParseKey(key)
	if err != nil {
		return err
	}

	path := l.objectPath(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encoding object: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}

	if len(obj.Embedding) > 0 {
		return l.indexObject(ctx, p, key, obj)
	}
	// A re-written entry loses its stale vector until reindexed.
	l.unindexObject(ctx, p, key)
	return nil
}

func (l *Local) indexObject(ctx context.Context, p scope.Path, key string, obj Object) error {
	collection, err := l.db.GetOrCreateCollection(collectionName(p), nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("opening collection: %w", err)
	}
	doc := chromem.Document{
		ID:        key,
		Embedding: obj.Embedding,
		Metadata: map[string]string{
			"key":        key,
			"expires_at": strconv.FormatInt(expiryUnix(obj), 10),
		},
	}
	if err := collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing object: %w", err)
	}
	return nil
}

func (l *Local) unindexObject(ctx context.Context, p scope.Path, key string) {
	collection := l.db.GetCollection(collectionName(p), noEmbedding)
	if collection == nil {
		return
	}
	if err := collection.Delete(ctx, nil, nil, key); err != nil {
		l.logger.Debug("vector index delete failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Get returns the object at key, expired or not.
func (l *Local) Get(ctx context.Context, key string) (Object, error) {
	p, err := scope.ParseKey(key)
	if err != nil {
		return Object{}, err
	}
	data, err := os.ReadFile(l.objectPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("reading object: %w", err)
	}
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return Object{}, fmt.Errorf("decoding object %s: %w", key, err)
	}
	return obj, nil
}

// Delete removes the object at key and its index entry.
func (l *Local) Delete(ctx context.Context, key string) (bool, error) {
	p, err := scope.ParseKey(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(l.objectPath(p)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("removing object: %w", err)
	}
	l.unindexObject(ctx, p, key)
	return true, nil
}

// Exists reports whether a non-expired object is stored at key.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	obj, err := l.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !obj.Expired(timeNow()), nil
}

// List walks the object tree and returns sorted, non-expired keys under prefix.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	now := timeNow()
	objectsRoot := filepath.Join(l.root, "objects")

	var keys []string
	err := filepath.WalkDir(objectsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), objectFileSuffix) {
			return nil
		}
		key, err := l.keyForPath(objectsRoot, path)
		if err != nil {
			l.logger.Warn("skipping undecodable object file",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		obj, err := l.Get(ctx, key)
		if err != nil {
			return nil
		}
		if !obj.Expired(now) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// VectorSearch queries the scope owner's chromem collection.
func (l *Local) VectorSearch(ctx context.Context, vector []float32, prefix string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	p, err := scope.ParsePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}

	collection := l.db.GetCollection(collectionName(p), noEmbedding)
	if collection == nil {
		return nil, nil
	}
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}

	// Oversample so expired or out-of-prefix hits do not shrink the result
	// set below topK.
	n := topK * 2
	if n > count {
		n = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}

	now := timeNow()
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		key := r.Metadata["key"]
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if exp, err := strconv.ParseInt(r.Metadata["expires_at"], 10, 64); err == nil && exp > 0 && exp <= now.Unix() {
			continue
		}
		matches = append(matches, Match{Key: key, Score: r.Similarity})
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Close releases backend resources.
// chromem persists incrementally, so there is nothing to flush.
func (l *Local) Close() error {
	return nil
}

// objectPath maps a scope path to its file, escaping each key segment so
// that arbitrary owner IDs and relative paths stay inside the object root.
func (l *Local) objectPath(p scope.Path) string {
	segs := []string{l.root, "objects", string(p.ScopeType), url.PathEscape(p.OwnerID)}
	for _, seg := range strings.Split(p.RelativePath, "/") {
		segs = append(segs, url.PathEscape(seg))
	}
	segs[len(segs)-1] += objectFileSuffix
	return filepath.Join(segs...)
}

// keyForPath is the inverse of objectPath.
func (l *Local) keyForPath(objectsRoot, path string) (string, error) {
	rel, err := filepath.Rel(objectsRoot, path)
	if err != nil {
		return "", err
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	if len(segs) < 3 {
		return "", fmt.Errorf("object file outside scope layout: %s", rel)
	}
	segs[len(segs)-1] = strings.TrimSuffix(segs[len(segs)-1], objectFileSuffix)
	decoded := make([]string, 0, len(segs))
	decoded = append(decoded, segs[0])
	for _, seg := range segs[1:] {
		d, err := url.PathUnescape(seg)
		if err != nil {
			return "", err
		}
		decoded = append(decoded, d)
	}
	return "/" + strings.Join(decoded, "/"), nil
}

// collectionName derives a chromem collection name for a scope owner.
// Owner IDs may contain characters collection names reject, so the owner
// segment is an 8-character SHA256 prefix.
func collectionName(p scope.Path) string {
	sum := sha256.Sum256([]byte(p.OwnerID))
	return string(p.ScopeType) + "_" + hex.EncodeToString(sum[:4])
}

func expiryUnix(obj Object) int64 {
	if obj.ExpiresAt.IsZero() {
		return 0
	}
	return obj.ExpiresAt.Unix()
}

// noEmbedding is the chromem embedding func for collections whose vectors
// are always supplied explicitly.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are computed upstream")
}

var _ Backend = (*Local)(nil)
