package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/availability"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/logging"
	"github.com/rl1809/inventory-engine/internal/port"
)

type Option func(*options)

type options struct {
	now     func() time.Time
	newID   func() string
	metrics port.EngineMetrics
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m port.EngineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		metrics: port.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// pendingEvents collects what a transaction changed; it is published only after commit.
type pendingEvents struct {
	stock  []domain.StockChangedEvent
	orders []domain.OrderStatusEvent
}

// txRunner holds what the engine and the ledger share: one transaction per operation,
// audit + event bookkeeping for every mutated row, and post-commit publication.
type txRunner struct {
	repo      port.DatabaseRepository
	publisher port.EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
	validate  *validator.Validate
	timeout   time.Duration
	options
}

func newTxRunner(repo port.DatabaseRepository, publisher port.EventPublisher, logger *zap.Logger, timeout time.Duration, tracerName string, opts []Option) *txRunner {
	return &txRunner{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		timeout:   timeout,
		options:   buildOptions(opts),
	}
}

func (r *txRunner) execute(ctx context.Context, op string, fn func(ctx context.Context, tx port.TxRepository, out *pendingEvents) error) error {
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, op)
	defer span.End()

	opCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var out pendingEvents
	err := r.repo.RunInTx(opCtx, func(txCtx context.Context, tx port.TxRepository) error {
		out = pendingEvents{}
		return fn(txCtx, tx, &out)
	})
	err = classify(opCtx, err)

	outcome := outcomeOf(err)
	r.metrics.ObserveOperation(op, outcome, time.Since(start))
	span.SetAttributes(attribute.String("outcome", outcome))

	if err != nil {
		span.RecordError(err)
		if isBusinessOutcome(err) {
			logging.Info(ctx, r.logger, "inventory operation rejected", zap.String("operation", op), zap.Error(err))
		} else {
			logging.Error(ctx, r.logger, "inventory operation failed", zap.String("operation", op), zap.Error(err))
		}
		return err
	}

	r.publish(ctx, out)
	return nil
}

// classify gives untyped store errors a kind. Anything that aborted because a deadline passed
// is a timeout, whatever layer noticed it first.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.Timeout(err)
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return domain.ConcurrencyConflict(err)
	}
	return err
}

func isBusinessOutcome(err error) bool {
	return errors.Is(err, domain.ErrInsufficientInventory) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrConcurrencyConflict)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch domain.KindOf(err) {
	case domain.ErrOrderNotFound:
		return "order_not_found"
	case domain.ErrInsufficientInventory:
		return "insufficient_inventory"
	case domain.ErrInventoryNotFound:
		return "inventory_not_found"
	case domain.ErrInvalidOrderStatus:
		return "invalid_order_status"
	case domain.ErrInsufficientAllocation:
		return "insufficient_allocation"
	case domain.ErrConcurrencyConflict:
		return "conflict"
	case domain.ErrTimeout:
		return "timeout"
	case domain.ErrInvalidArgument:
		return "invalid_argument"
	default:
		return "error"
	}
}

func (r *txRunner) check(input any) error {
	err := r.validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.InvalidArgument(err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, fe.Param()))
		case "ne":
			msgs = append(msgs, fmt.Sprintf("%s must not be %s", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	sort.Strings(msgs)

	return domain.InvalidArgument(strings.Join(msgs, "; "))
}

// writeSnapshot persists after with a version check against before and records the change.
// after must carry before's version; the returned snapshot carries the new one.
func (r *txRunner) writeSnapshot(ctx context.Context, tx port.TxRepository, before, after domain.InventorySnapshot, action domain.AuditAction, metadata map[string]string, actor string, out *pendingEvents) (domain.InventorySnapshot, error) {
	now := r.now()

	if err := tx.UpdateSnapshot(ctx, after); err != nil {
		return after, err
	}
	after.Version++
	after.UpdatedAt = now

	if err := r.recordStockChange(ctx, tx, before, after, action, metadata, actor, now, out); err != nil {
		return after, err
	}
	return after, nil
}

func (r *txRunner) recordStockChange(ctx context.Context, tx port.TxRepository, before, after domain.InventorySnapshot, action domain.AuditAction, metadata map[string]string, actor string, now time.Time, out *pendingEvents) error {
	record, err := domain.NewInventoryAudit(r.newID(), after.Key(), action, before.State(), after.State(), metadata, actor, now)
	if err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, record); err != nil {
		return err
	}

	out.stock = append(out.stock, domain.StockChangedEvent{
		EventID:    r.newID(),
		TenantID:   after.TenantID,
		SKU:        after.SKU,
		LocationID: after.LocationID,
		OnHand:     after.OnHand,
		Allocated:  after.Allocated,
		Reserved:   after.Reserved,
		Available:  availability.AvailableQty(after),
		UpdatedAt:  now,
	})
	return nil
}

// publish hands events to the publisher after commit. Failures are logged; the ledger is
// already correct and consumers tolerate missed events.
func (r *txRunner) publish(ctx context.Context, out pendingEvents) {
	ctx = context.WithoutCancel(ctx)

	for _, ev := range out.stock {
		if err := r.publisher.PublishInventoryStockChanged(ctx, ev); err != nil {
			logging.Warn(ctx, r.logger, "publish stock changed event failed",
				zap.String("event_id", ev.EventID), zap.String("sku", ev.SKU), zap.Error(err))
		}
	}
	for _, ev := range out.orders {
		if err := r.publisher.PublishOrderStatusUpdated(ctx, ev); err != nil {
			logging.Warn(ctx, r.logger, "publish order status event failed",
				zap.String("event_id", ev.EventID), zap.String("order_id", ev.OrderID), zap.Error(err))
		}
	}
}
