package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("DATABASE_URL_DEV", "sqlite:dev.db")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite:dev.db", cfg.DatabaseURL)
	assert.Equal(t, "local", cfg.LockBackend)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, "usd", cfg.StripeCurrency)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_ProductionAndLists(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL_PROD", "postgres://prod")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOCK_BACKEND", "Redis")
	t.Setenv("LOCK_TIMEOUT_MS", "1200")
	t.Setenv("ALLOW_CROSS_SITE_DEV", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://prod", cfg.DatabaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "redis", cfg.LockBackend)
	assert.Equal(t, 1200*time.Millisecond, cfg.LockTimeout)
	assert.True(t, cfg.AllowCrossSiteDev)
}
