package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Tenant attributes an embedding request to a billing organization.
type Tenant struct {
	OrganizationID string
}

// GeneratorConfig holds configuration for the Generator.
type GeneratorConfig struct {
	// MaxInputLength truncates input to this many runes before embedding.
	// Default: 8192.
	MaxInputLength int `koanf:"max_input_length"`

	// CacheTTL bounds how long a cached embedding is served. Default: 15m.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// CacheMaxEntries is the size threshold that triggers cache trimming.
	// Default: 4096.
	CacheMaxEntries int `koanf:"cache_max_entries"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	BreakerThreshold int `koanf:"breaker_threshold"`

	// BreakerCooldown is how long the circuit stays open before admitting
	// a half-open trial. Default: 60s.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	// MaxConcurrent bounds in-flight provider calls; waiters are admitted
	// in arrival order. Default: 4.
	MaxConcurrent int64 `koanf:"max_concurrent"`

	// RequestTimeout bounds a single provider call. A timed-out call
	// counts as a breaker failure. Default: 30s.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *GeneratorConfig) ApplyDefaults() {
	if c.MaxInputLength == 0 {
		c.MaxInputLength = 8192
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 15 * time.Minute
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 4096
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 60 * time.Second
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Generator produces embeddings through a Provider, shielding it with a
// content-hash cache, a circuit breaker, and a fairness-preserving
// concurrency limit shared by interactive and background callers.
type Generator struct {
	provider Provider
	model    string
	config   GeneratorConfig
	cache    *cache
	breaker  *breaker
	sem      *semaphore.Weighted
	metrics  *Metrics
	logger   *zap.Logger
}

// NewGenerator creates a Generator wrapping the given provider.
func NewGenerator(cfg GeneratorConfig, provider Provider, model string, logger *zap.Logger) *Generator {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		provider: provider,
		model:    model,
		config:   cfg,
		cache:    newCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		breaker:  newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		metrics:  NewMetrics(logger),
		logger:   logger,
	}
}

// Embed returns the embedding for text, attributed to the tenant.
//
// Cache hits bypass the breaker and provider entirely, so cached content
// stays searchable while the provider is down.
func (g *Generator) Embed(ctx context.Context, text string, tenant Tenant) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	text = truncateRunes(text, g.config.MaxInputLength)
	key := cacheKey(text, g.model)

	if vector, ok := g.cache.get(key); ok {
		g.metrics.RecordCacheHit(ctx, g.model)
		return vector, nil
	}

	if !g.breaker.allow() {
		g.metrics.RecordRejection(ctx, g.model)
		return nil, fmt.Errorf("%w: circuit breaker open", ErrProviderUnavailable)
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		// Caller gave up while queued. The provider was never contacted,
		// so this is not a provider failure; only hand back a half-open
		// probe admission so the next caller can retry it.
		g.breaker.releaseProbe()
		return nil, fmt.Errorf("waiting for embedding slot: %w", err)
	}
	defer g.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	vector, err := g.provider.EmbedQuery(callCtx, text)
	g.metrics.RecordGeneration(ctx, g.model, tenant.OrganizationID, time.Since(start), err)
	if err != nil {
		g.breaker.recordFailure()
		g.logger.Warn("embedding generation failed",
			zap.String("model", g.model),
			zap.String("organization", tenant.OrganizationID),
			zap.String("breaker_state", g.breaker.currentState().String()),
			zap.Error(err))
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	g.breaker.recordSuccess()
	g.cache.put(key, vector)
	return vector, nil
}

// Dimension returns the provider's embedding dimension.
func (g *Generator) Dimension() int {
	return g.provider.Dimension()
}

// Close releases the underlying provider.
func (g *Generator) Close() error {
	return g.provider.Close()
}

// truncateRunes clips s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
