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
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Jobs.LockTTL)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SUPPORTERHUB_SERVER__ADDR", ":9090")
	t.Setenv("SUPPORTERHUB_JOBS__LOCK_TTL", "5m")
	t.Setenv("SUPPORTERHUB_KAFKA__BROKERS", "k1:9092, k2:9092")
	t.Setenv("SUPPORTERHUB_SOURCES__SHOPIFY__FEED_URL", "http://shopify-connector")
	t.Setenv("SUPPORTERHUB_SOURCES__MAX_RETRIES", "7")
	t.Setenv("SUPPORTERHUB_SERVER__ADMIN_TOKEN", "ops-token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "ops-token", cfg.Server.AdminToken)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.LockTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.BrokerList())
	assert.Equal(t, "http://shopify-connector", cfg.Sources.Shopify.FeedURL)
	assert.Equal(t, uint64(7), cfg.Sources.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Jobs.ClassifierInterval, "untouched defaults survive")
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "log.format")

	cfg = Defaults()
	cfg.Jobs.Concurrency = 0
	assert.ErrorContains(t, cfg.Validate(), "jobs.concurrency")
}
