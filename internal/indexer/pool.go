// Package indexer embeds workspace entries in the background so writes
// stay fast and semantic search catches up asynchronously.
package indexer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/backend"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/scope"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Embedder produces embeddings for entry text. Satisfied by
// *embeddings.Generator, whose concurrency limit is shared with
// interactive search queries.
type Embedder interface {
	Embed(ctx context.Context, text string, tenant embeddings.Tenant) ([]float32, error)
}

// Config configures the indexing pool.
type Config struct {
	// Workers is the number of concurrent indexing workers. Default: 2.
	Workers int `koanf:"workers"`

	// QueueSize bounds the pending key queue. A full queue drops new
	// requests rather than blocking writers. Default: 256.
	QueueSize int `koanf:"queue_size"`

	// EntryTimeout bounds the processing of one entry. Default: 60s.
	EntryTimeout time.Duration `koanf:"entry_timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.EntryTimeout == 0 {
		c.EntryTimeout = 60 * time.Second
	}
}

// Pool is a bounded worker pool that attaches embeddings to workspace
// entries. Every failure is absorbed and logged; an entry that could not
// be indexed simply stays out of semantic search until it is written
// again.
type Pool struct {
	backend  backend.Backend
	embedder Embedder
	identity scope.Identity
	config   Config
	logger   *zap.Logger
	metrics  *Metrics

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates an indexing pool. Call Start before enqueueing.
func NewPool(cfg Config, be backend.Backend, embedder Embedder, identity scope.Identity, logger *zap.Logger) *Pool {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		backend:  be,
		embedder: embedder,
		identity: identity,
		config:   cfg,
		logger:   logger,
		metrics:  NewMetrics(logger),
		queue:    make(chan string, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("indexer started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Enqueue schedules a key for embedding and returns immediately. When the
// queue is full the request is dropped with a warning; the entry will be
// re-enqueued by its next write.
func (p *Pool) Enqueue(key string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- key:
	default:
		p.metrics.recordDropped(p.ctx)
		p.logger.Warn("indexer queue full, dropping key", zap.String("key", key))
	}
}

// Stop drains the queue and waits for workers to finish, up to the
// context deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		// Give up on in-flight entries.
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for key := range p.queue {
		p.process(key)
	}
}

// process embeds one entry. The entry is re-read before the embedding is
// attached so a concurrent overwrite is never clobbered with a stale
// vector.
func (p *Pool) process(key string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.EntryTimeout)
	defer cancel()

	path, err := scope.ParseKey(key)
	if err != nil {
		p.metrics.recordFailure(ctx)
		p.logger.Warn("indexer received invalid key", zap.String("key", key), zap.Error(err))
		return
	}

	obj, err := p.backend.Get(ctx, key)
	if err != nil {
		if err == backend.ErrNotFound {
			p.metrics.recordSkip(ctx)
			return
		}
		p.metrics.recordFailure(ctx)
		p.logger.Warn("indexer failed to load entry", zap.String("key", key), zap.Error(err))
		return
	}
	if obj.Expired(timeNow()) {
		p.metrics.recordSkip(ctx)
		return
	}

	text := indexableText(obj)
	if text == "" {
		p.metrics.recordSkip(ctx)
		return
	}

	tenant := p.resolveTenant(ctx, path)
	vector, err := p.embedder.Embed(ctx, text, tenant)
	if err != nil {
		p.metrics.recordFailure(ctx)
		p.logger.Warn("indexer failed to embed entry",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	current, err := p.backend.Get(ctx, key)
	if err != nil {
		p.metrics.recordSkip(ctx)
		return
	}
	if !current.CreatedAt.Equal(obj.CreatedAt) {
		// Replaced while we were embedding; the write re-enqueued it.
		p.metrics.recordSkip(ctx)
		return
	}

	current.Embedding = vector
	current.EmbeddedAt = timeNow().UTC()
	if err := p.backend.Put(ctx, key, current); err != nil {
		p.metrics.recordFailure(ctx)
		p.logger.Warn("indexer failed to store embedding",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	p.metrics.recordIndexed(ctx)
	p.logger.Debug("entry indexed", zap.String("key", key))
}

// resolveTenant attributes embedding cost to the owning organization.
// Session and agent scopes resolve upward through the directory; a
// resolution failure falls back to unattributed rather than blocking the
// index.
func (p *Pool) resolveTenant(ctx context.Context, path scope.Path) embeddings.Tenant {
	org, err := p.identity.OrganizationFor(ctx, path.ScopeType, path.OwnerID)
	if err != nil {
		p.logger.Warn("indexer could not resolve billing organization",
			zap.String("scope_type", string(path.ScopeType)),
			zap.String("owner_id", path.OwnerID),
			zap.Error(err))
		return embeddings.Tenant{}
	}
	return embeddings.Tenant{OrganizationID: org}
}

// indexableText extracts the searchable text of an entry. File references
// index their description; everything else indexes the raw value.
func indexableText(obj backend.Object) string {
	if obj.ContentType == workspace.ContentTypeFileRef {
		ref, err := workspace.ParseFileRef(obj.Data)
		if err != nil {
			return ""
		}
		return ref.Description
	}
	return string(obj.Data)
}
