package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "neo4j", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Webhook.MaxBatch)
	assert.Equal(t, 1, cfg.Webhook.Concurrency)
	assert.Equal(t, 100.0, cfg.Webhook.MinSwapValueUSD)
	assert.Equal(t, 5*time.Minute, cfg.Metadata.CacheTTL)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.VerifyDelegation)
	assert.Equal(t, "watcher-rules", cfg.NATS.RulesBucket)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WEBHOOK_MIN_SWAP_VALUE_USD", "250")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("NATS_URL", "nats://nats:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250.0, cfg.Webhook.MinSwapValueUSD)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
}
