package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"SERVICE_NAME", "ENV", "PORT", "STORE_BACKEND", "REDIS_ADDR", "NATS_URL",
		"SWEEP_INTERVAL", "SWEEP_BATCH_SIZE", "SIBLING_POLICY", "PRICING_ORDER",
		"DEFAULT_BID_VALIDITY_DAYS", "MIGRATE_ON_START", "BID_RATE_PER_SECOND",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "negotiation-service", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 9030, cfg.Port)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.Equal(t, "reject", cfg.SiblingPolicy)
	assert.Equal(t, "tax_then_discount", cfg.PricingOrder)
	assert.Equal(t, 30, cfg.DefaultBidValidityDays)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 1.0, cfg.BidRatePerSecond)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("SWEEP_BATCH_SIZE", "50")
	t.Setenv("SIBLING_POLICY", "expire")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("BID_RATE_PER_SECOND", "0.5")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 50, cfg.SweepBatchSize)
	assert.Equal(t, "expire", cfg.SiblingPolicy)
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, 0.5, cfg.BidRatePerSecond)
}

func TestEnvHelpers_InvalidFallsBack(t *testing.T) {
	t.Setenv("X_INT", "ten")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_FLOAT", "fast")

	assert.Equal(t, 7, GetEnvInt("X_INT", 7))
	assert.Equal(t, time.Second, GetEnvDuration("X_DUR", time.Second))
	assert.True(t, GetEnvBool("X_BOOL", true))
	assert.Equal(t, 2.5, GetEnvFloat("X_FLOAT", 2.5))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("X_LIST", " a, ,b ,c")
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvList("X_LIST", nil))

	t.Setenv("X_LIST", " , ")
	assert.Equal(t, []string{"d"}, GetEnvList("X_LIST", []string{"d"}))

	t.Setenv("X_LIST", "")
	assert.Nil(t, GetEnvList("X_LIST", nil))
}
