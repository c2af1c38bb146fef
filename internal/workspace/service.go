package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/backend"
	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

const instrumentationName = "github.com/fyrsmithlabs/workspaced/internal/workspace"

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Indexer receives keys whose entries need (re)embedding. Enqueue must not
// block; dropped keys are acceptable.
type Indexer interface {
	Enqueue(key string)
}

// Config configures the workspace service.
type Config struct {
	// SessionTTL is the default lifetime for session-scoped entries
	// written without an explicit TTL. Default: 24h.
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.SessionTTL == 0 {
		c.SessionTTL = 24 * time.Hour
	}
}

// Service is the scoped workspace store.
//
// Expiry is lazy: expired entries are invisible to reads and are physically
// removed when a read touches them.
type Service struct {
	backend backend.Backend
	indexer Indexer
	config  Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewService creates a workspace service. indexer may be nil to disable
// background embedding.
func NewService(cfg Config, be backend.Backend, indexer Indexer, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend: be,
		indexer: indexer,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}
}

// Set writes or replaces the entry at p. A replaced entry loses its
// embedding until the indexer catches up.
func (s *Service) Set(ctx context.Context, p scope.Path, value []byte, opts WriteOptions) (Entry, error) {
	ctx, span := s.tracer.Start(ctx, "workspace.set")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope_type", string(p.ScopeType)),
		attribute.Int("value_size", len(value)),
	)

	if err := p.Validate(); err != nil {
		return Entry{}, err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	ttl := opts.TTL
	if ttl == 0 && p.ScopeType.Ephemeral() {
		ttl = s.config.SessionTTL
	}

	now := timeNow().UTC()
	obj := backend.Object{
		Data:        value,
		ContentType: contentType,
		Meta:        opts.Meta,
		CreatedAt:   now,
	}
	if ttl > 0 {
		obj.ExpiresAt = now.Add(ttl)
	}

	key := p.Key()
	if err := s.backend.Put(ctx, key, obj); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Entry{}, fmt.Errorf("storing entry: %w", err)
	}

	if s.indexer != nil {
		s.indexer.Enqueue(key)
	}

	return entryFromObject(p, obj), nil
}

// Get returns the live entry at p.
func (s *Service) Get(ctx context.Context, p scope.Path) (Entry, error) {
	ctx, span := s.tracer.Start(ctx, "workspace.get")
	defer span.End()
	span.SetAttributes(attribute.String("scope_type", string(p.ScopeType)))

	if err := p.Validate(); err != nil {
		return Entry{}, err
	}

	key := p.Key()
	obj, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Entry{}, fmt.Errorf("loading entry: %w", err)
	}

	if obj.Expired(timeNow()) {
		s.purgeExpired(ctx, key)
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return entryFromObject(p, obj), nil
}

// Exists reports whether a live entry is stored at p.
func (s *Service) Exists(ctx context.Context, p scope.Path) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, p.Key())
}

// List returns the relative paths of live entries under p, sorted. The
// path's RelativePath may be empty (whole scope) or a partial prefix.
func (s *Service) List(ctx context.Context, p scope.Path) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "workspace.list")
	defer span.End()
	span.SetAttributes(attribute.String("scope_type", string(p.ScopeType)))

	prefix, err := prefixFor(p)
	if err != nil {
		return nil, err
	}

	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing entries: %w", err)
	}

	rels := make([]string, 0, len(keys))
	for _, key := range keys {
		if rel, ok := p.StripPrefix(key); ok {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

// Delete removes the entry at p, reporting whether one was removed.
// Deleting an expired or absent entry returns false without error.
func (s *Service) Delete(ctx context.Context, p scope.Path) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "workspace.delete")
	defer span.End()

	if err := p.Validate(); err != nil {
		return false, err
	}

	key := p.Key()
	live, err := s.backend.Exists(ctx, key)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("checking entry: %w", err)
	}

	removed, err := s.backend.Delete(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("deleting entry: %w", err)
	}
	return removed && live, nil
}

// Clear removes every entry under p. The path's RelativePath may be empty
// (whole scope) or a partial prefix. confirm must be true; this is not
// recoverable. Returns the number of entries removed.
func (s *Service) Clear(ctx context.Context, p scope.Path, confirm bool) (int, error) {
	ctx, span := s.tracer.Start(ctx, "workspace.clear")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope_type", string(p.ScopeType)),
		attribute.Bool("confirmed", confirm),
	)

	if !confirm {
		return 0, fmt.Errorf("%w: clear wipes everything under the prefix", ErrConfirmationRequired)
	}
	prefix, err := prefixFor(p)
	if err != nil {
		return 0, err
	}

	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("listing entries: %w", err)
	}

	removed := 0
	for _, key := range keys {
		ok, err := s.backend.Delete(ctx, key)
		if err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("deleting %s: %w", key, err)
		}
		if ok {
			removed++
		}
	}

	s.logger.Info("workspace scope cleared",
		zap.String("scope_type", string(p.ScopeType)),
		zap.String("owner_id", p.OwnerID),
		zap.Int("removed", removed))
	return removed, nil
}

// Export snapshots the live entries under p into a portable form keyed by
// path relative to p's scope owner.
func (s *Service) Export(ctx context.Context, p scope.Path) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "workspace.export")
	defer span.End()

	prefix, err := prefixFor(p)
	if err != nil {
		return nil, err
	}

	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing entries: %w", err)
	}

	snap := make(Snapshot, len(keys))
	for _, key := range keys {
		obj, err := s.backend.Get(ctx, key)
		if err != nil {
			// Entry vanished between list and get.
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("loading %s: %w", key, err)
		}
		if obj.Expired(timeNow()) {
			continue
		}
		rel, ok := p.StripPrefix(key)
		if !ok {
			continue
		}
		snap[rel] = ExportedEntry{
			Value:       string(obj.Data),
			ContentType: obj.ContentType,
			Meta:        obj.Meta,
		}
	}
	return snap, nil
}

// Import writes a snapshot under p's scope owner. Existing entries are
// skipped unless overwrite is set. Returns the number of entries written.
func (s *Service) Import(ctx context.Context, p scope.Path, snap Snapshot, overwrite bool) (int, error) {
	ctx, span := s.tracer.Start(ctx, "workspace.import")
	defer span.End()
	span.SetAttributes(attribute.Int("entries", len(snap)))

	if !p.ScopeType.Valid() || p.OwnerID == "" {
		return 0, fmt.Errorf("%w: import requires a scope owner", scope.ErrInvalidScope)
	}

	written := 0
	for rel, exported := range snap {
		target := scope.Path{ScopeType: p.ScopeType, OwnerID: p.OwnerID, RelativePath: rel}
		if err := target.Validate(); err != nil {
			return written, fmt.Errorf("importing %q: %w", rel, err)
		}

		if !overwrite {
			exists, err := s.backend.Exists(ctx, target.Key())
			if err != nil {
				return written, fmt.Errorf("checking %q: %w", rel, err)
			}
			if exists {
				continue
			}
		}

		_, err := s.Set(ctx, target, []byte(exported.Value), WriteOptions{
			ContentType: exported.ContentType,
			Meta:        exported.Meta,
		})
		if err != nil {
			return written, fmt.Errorf("importing %q: %w", rel, err)
		}
		written++
	}
	return written, nil
}

// Move relocates the entry at src to dst, preserving its metadata,
// creation time, and any attached embedding.
func (s *Service) Move(ctx context.Context, src, dst scope.Path) error {
	ctx, span := s.tracer.Start(ctx, "workspace.move")
	defer span.End()

	if err := s.transfer(ctx, src, dst, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Copy duplicates the entry at src to dst. The copy gets a fresh creation
// time but keeps the embedding, since the content is identical.
func (s *Service) Copy(ctx context.Context, src, dst scope.Path) error {
	ctx, span := s.tracer.Start(ctx, "workspace.copy")
	defer span.End()

	if err := s.transfer(ctx, src, dst, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Service) transfer(ctx context.Context, src, dst scope.Path, move bool) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if err := dst.Validate(); err != nil {
		return err
	}

	srcKey := src.Key()
	obj, err := s.backend.Get(ctx, srcKey)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, srcKey)
		}
		return fmt.Errorf("loading entry: %w", err)
	}
	if obj.Expired(timeNow()) {
		s.purgeExpired(ctx, srcKey)
		return fmt.Errorf("%w: %s", ErrNotFound, srcKey)
	}

	if !move {
		obj.CreatedAt = timeNow().UTC()
	}
	if err := s.backend.Put(ctx, dst.Key(), obj); err != nil {
		return fmt.Errorf("storing entry: %w", err)
	}

	if move {
		if _, err := s.backend.Delete(ctx, srcKey); err != nil {
			return fmt.Errorf("removing source entry: %w", err)
		}
	}

	if s.indexer != nil && len(obj.Embedding) == 0 {
		s.indexer.Enqueue(dst.Key())
	}
	return nil
}

// purgeExpired removes an expired entry touched by a read. Failures are
// logged only; the entry stays invisible either way.
func (s *Service) purgeExpired(ctx context.Context, key string) {
	if _, err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to purge expired entry",
			zap.String("key", key),
			zap.Error(err))
	}
}

func prefixFor(p scope.Path) (string, error) {
	if !p.ScopeType.Valid() {
		return "", fmt.Errorf("%w: unknown scope type %q", scope.ErrInvalidScope, p.ScopeType)
	}
	if p.OwnerID == "" {
		return "", fmt.Errorf("%w: owner ID required", scope.ErrInvalidScope)
	}
	return p.Prefix() + p.RelativePath, nil
}

func entryFromObject(p scope.Path, obj backend.Object) Entry {
	return Entry{
		Scope:       p,
		Value:       obj.Data,
		ContentType: obj.ContentType,
		Meta:        obj.Meta,
		CreatedAt:   obj.CreatedAt,
		ExpiresAt:   obj.ExpiresAt,
		Embedded:    len(obj.Embedding) > 0,
		EmbeddedAt:  obj.EmbeddedAt,
	}
}
