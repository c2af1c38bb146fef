// Package config provides configuration loading for workspaced.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/workspaced/internal/backend"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/identity"
	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/telemetry"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Config is the full daemon configuration.
type Config struct {
	Logging   logging.Config   `koanf:"logging"`
	Server    ServerConfig     `koanf:"server"`
	Backend   backend.Config   `koanf:"backend"`
	Embedding EmbeddingConfig  `koanf:"embedding"`
	Workspace workspace.Config `koanf:"workspace"`
	Indexer   indexer.Config   `koanf:"indexer"`
	Search    search.Config    `koanf:"search"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Identity  IdentityConfig   `koanf:"identity"`
}

// ServerConfig configures the operational HTTP listener.
type ServerConfig struct {
	// Addr is the listen address for /healthz and /metrics.
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// EmbeddingConfig groups the provider client and generator settings.
type EmbeddingConfig struct {
	Provider  embeddings.ProviderConfig  `koanf:"provider"`
	Generator embeddings.GeneratorConfig `koanf:"generator"`
}

// IdentityConfig holds the static identity directory for deployments
// without an external identity provider.
type IdentityConfig struct {
	// OrganizationID is the organization all principals belong to.
	OrganizationID string `koanf:"organization_id"`

	Teams  []identity.Principal `koanf:"teams"`
	Agents []identity.Principal `koanf:"agents"`
}

// ApplyDefaults sets defaults on every section.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	if c.Server.Addr == "" {
		c.Server.Addr = ":8700"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	c.Backend.ApplyDefaults()
	c.Embedding.Provider.ApplyDefaults()
	c.Embedding.Generator.ApplyDefaults()
	c.Workspace.ApplyDefaults()
	c.Indexer.ApplyDefaults()
	c.Search.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
	if c.Identity.OrganizationID == "" {
		c.Identity.OrganizationID = "default"
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Backend.Provider == "qdrant" {
		// The collection must be created with the provider's dimension.
		c.Backend.Qdrant.VectorSize = uint64(c.Embedding.Provider.Dimension)
		if err := c.Backend.Qdrant.Validate(); err != nil {
			return fmt.Errorf("backend.qdrant: %w", err)
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
