// Package publisher holds event sinks for post-commit inventory and order events.
package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/logging"
)

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishInventoryStockChanged(ctx context.Context, event domain.StockChangedEvent) error {
	logging.Info(ctx, p.logger, domain.EventTypeInventoryStockChanged,
		zap.String("event_id", event.EventID),
		zap.String("tenant_id", event.TenantID),
		zap.String("sku", event.SKU),
		zap.String("location_id", event.LocationID),
		zap.Int("on_hand", event.OnHand),
		zap.Int("allocated", event.Allocated),
		zap.Int("reserved", event.Reserved),
		zap.Int("available", event.Available),
	)
	return nil
}

func (p *LogPublisher) PublishOrderStatusUpdated(ctx context.Context, event domain.OrderStatusEvent) error {
	logging.Info(ctx, p.logger, domain.EventTypeOrderStatusUpdated,
		zap.String("event_id", event.EventID),
		zap.String("tenant_id", event.TenantID),
		zap.String("order_id", event.OrderID),
		zap.String("previous_status", string(event.PreviousStatus)),
		zap.String("status", string(event.Status)),
	)
	return nil
}
