package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfigPath returns a path inside the allowed config directory that
// does not exist, so Load falls through to env vars and defaults.
func testConfigPath(t *testing.T) string {
	t.Helper()
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	return filepath.Join(home, ".config", "workspaced", fmt.Sprintf("test-%d.yaml", time.Now().UnixNano()))
}

// writeTestConfig persists YAML into the allowed config directory with
// owner-only permissions and cleans it up afterwards.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := testConfigPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8700", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "local", cfg.Backend.Provider)
	assert.Equal(t, "tei", cfg.Embedding.Provider.Provider)
	assert.Equal(t, 24*time.Hour, cfg.Workspace.SessionTTL)
	assert.Equal(t, 2, cfg.Indexer.Workers)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, "default", cfg.Identity.OrganizationID)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeTestConfig(t, `
logging:
  level: debug
  format: console
backend:
  provider: memory
workspace:
  session_ttl: 2h
identity:
  organization_id: acme
  agents:
    - id: a-1
      name: triage-bot
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "memory", cfg.Backend.Provider)
	assert.Equal(t, 2*time.Hour, cfg.Workspace.SessionTTL)
	assert.Equal(t, "acme", cfg.Identity.OrganizationID)
	require.Len(t, cfg.Identity.Agents, 1)
	assert.Equal(t, "a-1", cfg.Identity.Agents[0].ID)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTestConfig(t, `
logging:
  level: info
`)
	t.Setenv("WORKSPACED_LOGGING__LEVEL", "warn")
	t.Setenv("WORKSPACED_BACKEND__QDRANT__HOST", "qdrant.internal")
	t.Setenv("WORKSPACED_EMBEDDING__PROVIDER__MODEL", "BAAI/bge-base-en-v1.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level, "env beats file")
	assert.Equal(t, "qdrant.internal", cfg.Backend.Qdrant.Host)
	assert.Equal(t, "BAAI/bge-base-en-v1.5", cfg.Embedding.Provider.Model)
	assert.Equal(t, 768, cfg.Embedding.Provider.Dimension, "dimension follows the model heuristic")
}

func TestLoadRejectsInvalidLevel(t *testing.T) {
	t.Setenv("WORKSPACED_LOGGING__LEVEL", "shouty")
	_, err := Load(testConfigPath(t))
	require.Error(t, err)
}

func TestLoadRejectsPathOutsideAllowedDirs(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestValidateConfigPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	require.NoError(t, validateConfigPath(filepath.Join(home, ".config", "workspaced", "config.yaml")))
	require.NoError(t, validateConfigPath("/etc/workspaced/config.yaml"))
	require.Error(t, validateConfigPath("/tmp/config.yaml"))
}

func TestValidateConfigFileProperties(t *testing.T) {
	dir := t.TempDir()

	strict := filepath.Join(dir, "strict.yaml")
	require.NoError(t, os.WriteFile(strict, []byte("a: b"), 0o600))
	info, err := os.Stat(strict)
	require.NoError(t, err)
	require.NoError(t, validateConfigFileProperties(info))

	loose := filepath.Join(dir, "loose.yaml")
	require.NoError(t, os.WriteFile(loose, []byte("a: b"), 0o644))
	info, err = os.Stat(loose)
	require.NoError(t, err)
	require.Error(t, validateConfigFileProperties(info))
}

func TestLoadRejectsWorldReadableFile(t *testing.T) {
	path := testConfigPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))
	t.Cleanup(func() { _ = os.Remove(path) })

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file validation failed")
}

func TestQdrantValidationTiesDimension(t *testing.T) {
	path := writeTestConfig(t, `
backend:
  provider: qdrant
embedding:
  provider:
    model: text-embedding-3-small
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1536), cfg.Backend.Qdrant.VectorSize)
}
