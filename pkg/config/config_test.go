package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clearstone/dealkernel/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ARTIFACT_ROOT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("OTEL_ENDPOINT", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Contains(t, cfg.DatabaseURL, "localhost") // Default is local
	assert.Equal(t, "./data", cfg.ArtifactRoot)
	assert.Empty(t, cfg.RedisAddr)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "/var/lib/dealkernel/deals.db")
	t.Setenv("ARTIFACT_ROOT", "/var/lib/dealkernel")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/var/lib/dealkernel/deals.db", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/dealkernel", cfg.ArtifactRoot)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

// TestLoad_SQLiteDefaultPath verifies the sqlite driver gets a file default
// instead of a postgres DSN.
func TestLoad_SQLiteDefaultPath(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")

	cfg := config.Load()
	assert.Equal(t, "dealkernel.db", cfg.DatabaseURL)
}
