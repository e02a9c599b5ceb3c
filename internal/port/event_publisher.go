package port

import (
	"context"
	"time"

	"github.com/rl1809/inventory-engine/internal/core/domain"
)

// EventPublisher is called only after a successful commit.
type EventPublisher interface {
	PublishInventoryStockChanged(ctx context.Context, event domain.StockChangedEvent) error
	PublishOrderStatusUpdated(ctx context.Context, event domain.OrderStatusEvent) error
}

type EngineMetrics interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	EventDropped(eventType string)
}

type NoopMetrics struct{}

func (NoopMetrics) ObserveOperation(string, string, time.Duration) {}

func (NoopMetrics) EventDropped(string) {}
