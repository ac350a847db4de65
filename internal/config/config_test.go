package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Empty(t, cfg.MySQLDSN)
	assert.Equal(t, 4, cfg.JournalWorkers)
	assert.Equal(t, 2*time.Hour, cfg.OrderIdleTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 8, cfg.MinCodeLength)
	assert.Equal(t, "Africa/Nairobi", cfg.Location().String())
	assert.False(t, cfg.SeedDemoMenu)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ORDER_IDLE_TIMEOUT", "30m")
	t.Setenv("SEED_DEMO_MENU", "true")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Minute, cfg.OrderIdleTimeout)
	assert.True(t, cfg.SeedDemoMenu)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"JOURNAL_WORKERS": "0",
		"SWEEP_INTERVAL":  "-1s",
		"TIMEZONE":        "Mars/Olympus",
		"MIN_CODE_LENGTH": "0",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestLoad_MySQLNeedsRedis(t *testing.T) {
	t.Setenv("MYSQL_DSN", "canteen:secret@tcp(db:3306)/canteen")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load()
	assert.ErrorContains(t, err, "REDIS_ADDR")

	t.Setenv("REDIS_ADDR", "redis:6379")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoad_Malformed(t *testing.T) {
	t.Setenv("JOURNAL_QUEUE_SIZE", "lots")

	_, err := Load()
	assert.Error(t, err)
}
