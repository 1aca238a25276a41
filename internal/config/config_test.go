package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "croupier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "orchestrator:\n  host: orchestrator.example.org\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "sqlite3", cfg.Database.Dialect)
	assert.Equal(t, 8200, cfg.Vault.Port)
	assert.Equal(t, 30*time.Second, cfg.OrchestratorTimeout())
}

func TestLoadParsesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
orchestrator:
  host: cfy.example.org
  username: admin
  password: hunter2
  tenant: croupier
  timeout_seconds: 5
marketplace:
  url: https://shop.example.org
  consumer_key: ck
  consumer_secret: cs
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "cfy.example.org", cfg.Orchestrator.Host)
	assert.Equal(t, "croupier", cfg.Orchestrator.Tenant)
	assert.Equal(t, 5*time.Second, cfg.OrchestratorTimeout())
	assert.Equal(t, "https://shop.example.org", cfg.Marketplace.URL)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  host: from-file.example.org
  username: file-user
database:
  dsn: file.db
`)
	t.Setenv("ORCHESTRATOR_HOST", "from-env.example.org")
	t.Setenv("ORCHESTRATOR_USER", "env-user")
	t.Setenv("DATABASE_DSN", "env.db")
	t.Setenv("VAULT_PORT", "8201")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.example.org", cfg.Orchestrator.Host)
	assert.Equal(t, "env-user", cfg.Orchestrator.Username)
	assert.Equal(t, "env.db", cfg.Database.DSN)
	assert.Equal(t, 8201, cfg.Vault.Port)
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("ORCHESTRATOR_HOST", "env-only.example.org")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-only.example.org", cfg.Orchestrator.Host)
}

func TestLoadRequiresOrchestratorHost(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("ORCHESTRATOR_HOST", "")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "orchestrator: [not a mapping\n")

	_, err := Load(path)
	assert.Error(t, err)
}
