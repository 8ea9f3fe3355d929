package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8400, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "./data/heliactyl.sqlite", cfg.Database.URL)
	require.Equal(t, "heliactyl", cfg.Store.Namespace)
	require.False(t, cfg.Store.EnableTTL)
	require.Equal(t, 10000, cfg.Store.MaxQueueSize)
	require.Equal(t, 30*time.Second, cfg.Store.OperationTimeout)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HELIACTYL_SERVER_PORT", "9100")
	t.Setenv("HELIACTYL_DATABASE_URL", "postgres://localhost/panel")
	t.Setenv("HELIACTYL_STORE_ENABLE_TTL", "true")
	t.Setenv("HELIACTYL_STORE_OPERATION_TIMEOUT", "5s")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "postgres://localhost/panel", cfg.Database.URL)
	require.True(t, cfg.Store.EnableTTL)
	require.Equal(t, 5*time.Second, cfg.Store.OperationTimeout)
}

func TestLoadConfigRejectsInvalidPort(t *testing.T) {
	t.Setenv("HELIACTYL_SERVER_PORT", "-1")

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}
