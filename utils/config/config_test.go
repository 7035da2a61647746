package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORCH_DB_PATH", filepath.Join(t.TempDir(), "orchestrator.db"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "/api/orchestrator", cfg.Server.APIPrefix)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(filepath.Dir(cfg.Store.DBPath), "orchestrator.bolt"), cfg.Store.BoltPath)
	assert.Equal(t, 10*time.Second, cfg.Runtime.CallTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Runtime.PullTimeout)
	assert.Equal(t, 4, cfg.Runtime.RetrySteps)
	assert.Equal(t, 5*time.Second, cfg.Images.CacheTTL)
	assert.Equal(t, 1000, cfg.Logs.BufferLines)
	assert.Equal(t, 100, cfg.Logs.DefaultTail)
	assert.Equal(t, 2*time.Minute, cfg.Logs.GracePeriod)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORCH_SERVER_PORT", "9090")
	t.Setenv("ORCH_SERVER_MODE", "release")
	t.Setenv("ORCH_CORS_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("ORCH_STORE_DRIVER", "BOLT")
	t.Setenv("ORCH_RUNTIME_RETRY_STEPS", "2")
	t.Setenv("ORCH_LOG_GRACE_PERIOD", "30s")
	t.Setenv("ORCH_RECONCILE_ENABLED", "false")
	t.Setenv("ORCH_LOG_FORMAT", "JSON")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "bolt", cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Runtime.RetrySteps)
	assert.Equal(t, 30*time.Second, cfg.Logs.GracePeriod)
	assert.False(t, cfg.Reconcile.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ORCH_LOG_BUFFER_LINES", "lots")
	t.Setenv("ORCH_IMAGE_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Logs.BufferLines)
	assert.Equal(t, 5*time.Second, cfg.Images.CacheTTL)
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	tests := map[string]string{
		"ORCH_SERVER_MODE":          "verbose",
		"ORCH_STORE_DRIVER":         "postgres",
		"ORCH_API_PREFIX":           "api",
		"ORCH_RUNTIME_RETRY_STEPS":  "0",
		"ORCH_LOG_DEFAULT_TAIL":     "5000",
		"ORCH_RECONCILE_INTERVAL":   "10ms",
		"ORCH_AUDIT_RETENTION_DAYS": "0",
		"ORCH_LOG_LEVEL":            "chatty",
		"ORCH_IMAGE_CACHE_TTL":      "0s",
		"ORCH_LOG_GRACE_PERIOD":     "-1m",
		"ORCH_REMOVED_RETENTION":    "0s",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ORCH_SERVER_PORT=7070\n"), 0o600))
	t.Chdir(dir)

	// godotenv does not override variables that are already set
	os.Unsetenv("ORCH_SERVER_PORT")
	t.Cleanup(func() { os.Unsetenv("ORCH_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
}
