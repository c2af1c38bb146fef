package backend

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a storage backend.
type Config struct {
	// Provider selects the backend implementation:
	//   - "local" (default): filesystem objects with an embedded chromem
	//     vector index, zero external dependencies
	//   - "qdrant": external Qdrant server over gRPC
	//   - "memory": in-process map, testing only
	Provider string `koanf:"provider"`

	Local  LocalConfig  `koanf:"local"`
	Qdrant QdrantConfig `koanf:"qdrant"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "local"
	}
	c.Local.ApplyDefaults()
	c.Qdrant.ApplyDefaults()
}

// New creates a Backend based on the configured provider.
//
// The local provider is recommended for single-node deployments as it
// requires no setup; qdrant is for deployments that already run a vector
// database.
func New(cfg Config, logger *zap.Logger) (Backend, error) {
	cfg.ApplyDefaults()

	switch cfg.Provider {
	case "local":
		return NewLocal(cfg.Local, logger)
	case "qdrant":
		return NewQdrant(cfg.Qdrant, logger)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend provider: %s (supported: local, qdrant, memory)", ErrInvalidConfig, cfg.Provider)
	}
}
