package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/config"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/core/service"
	"github.com/rl1809/inventory-engine/internal/port"
)

const seedActor = "inventoryd-seed"

// seedStock records opening stock for every item that has no inventory row yet.
// Rows that already exist are left alone, so restarting with the same file is a no-op.
func seedStock(ctx context.Context, repo port.DatabaseRepository, engine *service.InventoryEngine, items []config.SeedItem, logger *zap.Logger) (int, error) {
	seeded := 0
	for _, item := range items {
		key := domain.SnapshotKey{TenantID: item.TenantID, SKU: item.SKU, LocationID: item.LocationID}
		existing, err := repo.GetSnapshot(ctx, key)
		if err != nil {
			return seeded, fmt.Errorf("look up %s: %w", key.EntityID(), err)
		}
		if existing != nil {
			logger.Debug("seed skipped, row exists", zap.String("tenant_id", key.TenantID), zap.String("entity", key.EntityID()))
			continue
		}

		if _, err := engine.Adjust(ctx, item.TenantID, item.SKU, item.Quantity, "opening stock", item.LocationID, seedActor); err != nil {
			return seeded, fmt.Errorf("seed %s: %w", key.EntityID(), err)
		}
		seeded++
	}
	return seeded, nil
}
