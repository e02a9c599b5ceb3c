package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

var (
	ErrEventQueueFull     = errors.New("event queue full")
	ErrDispatcherClosed   = errors.New("event dispatcher closed")
	defaultDeliverTimeout = 5 * time.Second
)

type DispatcherConfig struct {
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// envelope carries exactly one of the two event kinds.
type envelope struct {
	stock *domain.StockChangedEvent
	order *domain.OrderStatusEvent
}

func (e envelope) eventType() string {
	if e.stock != nil {
		return domain.EventTypeInventoryStockChanged
	}
	return domain.EventTypeOrderStatusUpdated
}

func (e envelope) eventID() string {
	if e.stock != nil {
		return e.stock.EventID
	}
	return e.order.EventID
}

// EventDispatcher decouples event delivery from committed transactions. Publish calls only
// enqueue; workers drain the queue into the sink, retrying failed deliveries.
type EventDispatcher struct {
	sink        port.EventPublisher
	logger      *zap.Logger
	metrics     port.EngineMetrics
	queue       chan envelope
	maxAttempts int
	backoff     time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ port.EventPublisher = (*EventDispatcher)(nil)

func NewEventDispatcher(sink port.EventPublisher, logger *zap.Logger, cfg DispatcherConfig, opts ...Option) *EventDispatcher {
	o := buildOptions(opts)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &EventDispatcher{
		sink:        sink,
		logger:      logger,
		metrics:     o.metrics,
		queue:       make(chan envelope, cfg.QueueSize),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
	}
}

func (d *EventDispatcher) PublishInventoryStockChanged(_ context.Context, event domain.StockChangedEvent) error {
	return d.enqueue(envelope{stock: &event})
}

func (d *EventDispatcher) PublishOrderStatusUpdated(_ context.Context, event domain.OrderStatusEvent) error {
	return d.enqueue(envelope{order: &event})
}

func (d *EventDispatcher) enqueue(env envelope) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- env:
		return nil
	default:
		d.metrics.EventDropped(env.eventType())
		d.logger.Error("event queue full, dropping event",
			zap.String("event_type", env.eventType()), zap.String("event_id", env.eventID()))
		return ErrEventQueueFull
	}
}

// Start launches the delivery workers.
func (d *EventDispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.logger.Info("event dispatcher started", zap.Int("workers", workers))
}

func (d *EventDispatcher) workerLoop(id int) {
	for env := range d.queue {
		d.deliver(id, env)
	}
}

func (d *EventDispatcher) deliver(worker int, env envelope) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), defaultDeliverTimeout)
		if env.stock != nil {
			err = d.sink.PublishInventoryStockChanged(ctx, *env.stock)
		} else {
			err = d.sink.PublishOrderStatusUpdated(ctx, *env.order)
		}
		cancel()

		if err == nil {
			return
		}

		d.logger.Warn("event delivery failed",
			zap.Int("worker", worker),
			zap.Int("attempt", attempt),
			zap.String("event_type", env.eventType()),
			zap.String("event_id", env.eventID()),
			zap.Error(err))

		if attempt < d.maxAttempts && d.backoff > 0 {
			time.Sleep(d.backoff)
		}
	}

	d.metrics.EventDropped(env.eventType())
	d.logger.Error("event dropped after retries",
		zap.Int("worker", worker),
		zap.Int("attempts", d.maxAttempts),
		zap.String("event_type", env.eventType()),
		zap.String("event_id", env.eventID()),
		zap.Error(err))
}

// Close stops accepting events, drains what is queued and waits for the workers.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
