// Package embeddings provides embedding generation with caching, circuit
// breaking, and bounded provider concurrency.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput indicates empty or whitespace-only input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingCredentials indicates a provider requiring credentials was
	// configured without them.
	ErrMissingCredentials = errors.New("missing provider credentials")

	// ErrProviderUnavailable indicates the provider is unreachable or the
	// circuit breaker is open.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedQuery generates an embedding for a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "tei" (default) or "openai".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the provider endpoint base URL.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates requests (required for openai, optional for tei).
	APIKey string `koanf:"api_key"`

	// Dimension is the embedding dimension. Falls back to a model-name
	// heuristic when zero.
	Dimension int `koanf:"dimension"`

	// RequestsPerSecond paces outgoing provider requests. Default: 10.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ProviderConfig) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "tei"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Dimension == 0 {
		c.Dimension = detectDimensionFromModel(c.Model)
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	cfg.ApplyDefaults()

	switch cfg.Provider {
	case "tei":
		return NewTEI(cfg)
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: tei, openai)", ErrInvalidConfig, cfg.Provider)
	}
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if the model is unknown.
func detectDimensionFromModel(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding-3-small"), strings.Contains(m, "ada-002"):
		return 1536
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"):
		return 768
	default:
		return 384
	}
}
