package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/adapter/publisher"
	"github.com/rl1809/inventory-engine/internal/adapter/storage"
	"github.com/rl1809/inventory-engine/internal/config"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/core/service"
)

func TestSeedStock_SkipsExistingRows(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	store := storage.NewMemoryAdapter(time.Second)
	engine := service.NewInventoryEngine(store, publisher.NewLogPublisher(logger), logger, service.EngineConfig{OperationTimeout: time.Second})

	items := []config.SeedItem{
		{TenantID: "tenant-1", SKU: "SKU-1", LocationID: "main", Quantity: 100},
		{TenantID: "tenant-1", SKU: "SKU-2", LocationID: "main", Quantity: 20},
	}

	n, err := seedStock(ctx, store, engine, items, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A restart with a changed file must not touch rows already seeded.
	items[0].Quantity = 999
	n, err = seedStock(ctx, store, engine, items, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	snap, err := store.GetSnapshot(ctx, domain.SnapshotKey{TenantID: "tenant-1", SKU: "SKU-1", LocationID: "main"})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 100, snap.OnHand)

	records, err := store.ListAuditRecords(ctx, "tenant-1", domain.AuditEntityInventory, "SKU-1@main")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, seedActor, records[0].Actor)
}

func TestSeedStock_InvalidItem(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	store := storage.NewMemoryAdapter(time.Second)
	engine := service.NewInventoryEngine(store, publisher.NewLogPublisher(logger), logger, service.EngineConfig{OperationTimeout: time.Second})

	_, err := seedStock(ctx, store, engine, []config.SeedItem{{TenantID: "tenant-1", SKU: "SKU-1", LocationID: "main"}}, logger)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
