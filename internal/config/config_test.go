package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
env: prod
engine:
  operation_timeout: 3s
  adjust_policy: reject
events:
  sink: kafka
  kafka_brokers: ["k1:9092", "k2:9092"]
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 3*time.Second, cfg.Engine.OperationTimeout)
	assert.Equal(t, 2*time.Second, cfg.Engine.AcquireTimeout)
	assert.Equal(t, "reject", cfg.Engine.AdjustPolicy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 30*time.Minute, cfg.Reservations.TTL)
	assert.Equal(t, 10, cfg.Reservations.DefaultReorderPoint)
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	tests := map[string]string{
		"adjust policy": "engine:\n  adjust_policy: clip\n",
		"event sink":    "events:\n  sink: nats\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := Load(path)
			assert.ErrorContains(t, err, "validate config")
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	err := os.WriteFile(path, []byte(`
items:
  - tenant_id: tenant-1
    sku: SKU-1
    quantity: 100
  - tenant_id: tenant-1
    sku: SKU-2
    location_id: east
    quantity: 5
`), 0o600)
	require.NoError(t, err)

	items, err := LoadSeed(path)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, SeedItem{TenantID: "tenant-1", SKU: "SKU-1", LocationID: "main", Quantity: 100}, items[0])
	assert.Equal(t, "east", items[1].LocationID)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("local", "debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("prod", "loud")
	assert.Error(t, err)
}
