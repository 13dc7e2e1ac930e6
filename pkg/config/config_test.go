package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, time.Duration(cfg.PortRegistry.DefaultTTL))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.PortRegistry.CleanupInterval))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Hypervisor.HealthCheckInterval))
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Hypervisor.StatusUpdateInterval))
	assert.Equal(t, time.Second, time.Duration(cfg.Orchestration.RetryBase))
	assert.Equal(t, 60*time.Second, time.Duration(cfg.Orchestration.RetryCap))
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port_registry:
  default_ttl: 90s
hypervisor:
  health_check_interval: 45s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, time.Duration(cfg.PortRegistry.DefaultTTL))
	assert.Equal(t, 45*time.Second, time.Duration(cfg.Hypervisor.HealthCheckInterval))
	// Untouched keys keep their defaults.
	assert.Equal(t, time.Second, time.Duration(cfg.Orchestration.RetryBase))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port_registry:\n  default_ttl: 90s\n"), 0o644))
	t.Setenv("SIRSI_PORT_REGISTRY_DEFAULT_TTL", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, time.Duration(cfg.PortRegistry.DefaultTTL))
}
