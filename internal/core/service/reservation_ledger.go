package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/availability"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/logging"
	"github.com/rl1809/inventory-engine/internal/port"
)

const (
	opCheckAvailability = "ReservationLedger.CheckAvailability"
	opReserve           = "ReservationLedger.Reserve"
	opReleaseHolds      = "ReservationLedger.Release"
	opFulfill           = "ReservationLedger.Fulfill"
	opExpire            = "ReservationLedger.ExpireStale"
)

type LedgerConfig struct {
	OperationTimeout    time.Duration
	TTL                 time.Duration
	LocationID          string
	DefaultReorderPoint int
}

type AvailabilityCheck struct {
	Available         bool                `json:"available"`
	CurrentStock      int                 `json:"currentStock"`
	Reserved          int                 `json:"reserved"`
	AvailableQuantity int                 `json:"availableQuantity"`
	Status            availability.Status `json:"status"`
	ReorderPoint      int                 `json:"reorderPoint"`
	Warning           string              `json:"warning,omitempty"`
}

// ReservationLedger manages soft, time-limited holds placed ahead of allocation.
// Holds are stored at the ledger's location and count toward reserved stock until they expire.
type ReservationLedger struct {
	*txRunner
	reorder port.ReorderPointProvider
	cfg     LedgerConfig
}

func NewReservationLedger(repo port.DatabaseRepository, reorder port.ReorderPointProvider, publisher port.EventPublisher, logger *zap.Logger, cfg LedgerConfig, opts ...Option) *ReservationLedger {
	return &ReservationLedger{
		txRunner: newTxRunner(repo, publisher, logger, cfg.OperationTimeout, "reservation-ledger", opts),
		reorder:  reorder,
		cfg:      cfg,
	}
}

type availabilityInput struct {
	TenantID string `validate:"required"`
	SKU      string `validate:"required"`
	Quantity int    `validate:"gt=0"`
}

type reserveInput struct {
	TenantID string             `validate:"required"`
	OrderID  string             `validate:"required"`
	Items    []domain.OrderLine `validate:"required,min=1,dive"`
}

type holdInput struct {
	TenantID string `validate:"required"`
	OrderID  string `validate:"required"`
}

// CheckAvailability reports whether qty units of sku can be sold, summed over every location.
// It reads outside any transaction and never blocks writers.
func (l *ReservationLedger) CheckAvailability(ctx context.Context, tenantID, sku string, qty int) (*AvailabilityCheck, error) {
	if err := l.check(availabilityInput{TenantID: tenantID, SKU: sku, Quantity: qty}); err != nil {
		return nil, err
	}

	ctx, span := l.tracer.Start(ctx, opCheckAvailability)
	defer span.End()

	start := time.Now()
	snaps, err := l.repo.ListSnapshots(ctx, tenantID, sku)
	if err != nil {
		span.RecordError(err)
		l.metrics.ObserveOperation(opCheckAvailability, outcomeOf(err), time.Since(start))
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	total := availability.Aggregate(snaps)
	rop := l.reorderPoint(ctx, tenantID, sku)

	result := &AvailabilityCheck{
		Available:         total.Available >= qty,
		CurrentStock:      total.OnHand,
		Reserved:          total.Reserved,
		AvailableQuantity: total.Available,
		Status:            total.Status(rop),
		ReorderPoint:      rop,
	}
	switch remaining := total.Headroom(qty); {
	case remaining < 0:
		result.Warning = fmt.Sprintf("only %d of %d requested units of %s are available", total.Available, qty, sku)
	case remaining <= rop:
		result.Warning = fmt.Sprintf("stock of %s drops to %d, at or below reorder point %d", sku, remaining, rop)
	}

	l.metrics.ObserveOperation(opCheckAvailability, "ok", time.Since(start))
	return result, nil
}

func (l *ReservationLedger) reorderPoint(ctx context.Context, tenantID, sku string) int {
	if l.reorder == nil {
		return l.cfg.DefaultReorderPoint
	}
	rop, err := l.reorder.GetReorderPoint(ctx, tenantID, sku)
	if err != nil {
		logging.Warn(ctx, l.logger, "reorder point lookup failed, using default",
			zap.String("sku", sku), zap.Int("default", l.cfg.DefaultReorderPoint), zap.Error(err))
		return l.cfg.DefaultReorderPoint
	}
	return rop
}

// Reserve places one hold per item for the order, all or nothing. An order holds at most one
// set of active reservations; release or fulfill them before reserving again.
func (l *ReservationLedger) Reserve(ctx context.Context, tenantID, orderID string, items []domain.OrderLine) ([]domain.Reservation, error) {
	if err := l.check(reserveInput{TenantID: tenantID, OrderID: orderID, Items: items}); err != nil {
		return nil, err
	}
	lines := domain.MergeLines(items)

	var result []domain.Reservation
	err := l.execute(ctx, opReserve, func(ctx context.Context, tx port.TxRepository, _ *pendingEvents) error {
		now := l.now()

		existing, err := tx.ListReservations(ctx, tenantID, orderID, domain.ReservationStatusActive)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.Holds(now) {
				return domain.InvalidArgument(fmt.Sprintf("order %s already holds active reservations", orderID))
			}
		}

		for _, line := range lines {
			snaps, err := tx.ListSnapshots(ctx, tenantID, line.SKU)
			if err != nil {
				return err
			}
			local, ok := atLocation(snaps, l.cfg.LocationID)
			if !ok {
				return domain.InventoryNotFound(line.SKU, l.cfg.LocationID)
			}
			total := availability.Aggregate(snaps)
			if total.Available < line.Quantity {
				return domain.InsufficientInventory(line.SKU, line.Quantity, total.Available)
			}
			// the hold lives at one row, so that row alone must cover it
			if !availability.IsAvailable(local, line.Quantity) {
				return domain.InsufficientInventory(line.SKU, line.Quantity, availability.AvailableQty(local))
			}
		}

		result = make([]domain.Reservation, 0, len(lines))
		for _, line := range lines {
			r := domain.Reservation{
				ID:         l.newID(),
				TenantID:   tenantID,
				SKU:        line.SKU,
				LocationID: l.cfg.LocationID,
				OrderID:    orderID,
				Quantity:   line.Quantity,
				Status:     domain.ReservationStatusActive,
				ExpiresAt:  now.Add(l.cfg.TTL),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
			result = append(result, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release drops the order's active holds and returns how many were released.
func (l *ReservationLedger) Release(ctx context.Context, tenantID, orderID string) (int, error) {
	if err := l.check(holdInput{TenantID: tenantID, OrderID: orderID}); err != nil {
		return 0, err
	}

	var released int
	err := l.execute(ctx, opReleaseHolds, func(ctx context.Context, tx port.TxRepository, _ *pendingEvents) error {
		n, err := releaseHolds(ctx, tx, tenantID, orderID)
		released = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// Fulfill ships the order's live holds straight from onHand. The units left on the shelf must
// still cover the row's allocations and every other order's live holds. Holds that already
// expired are released instead and are not part of the result.
func (l *ReservationLedger) Fulfill(ctx context.Context, tenantID, orderID, actor string) ([]domain.Reservation, error) {
	if err := l.check(holdInput{TenantID: tenantID, OrderID: orderID}); err != nil {
		return nil, err
	}

	var fulfilled []domain.Reservation
	err := l.execute(ctx, opFulfill, func(ctx context.Context, tx port.TxRepository, out *pendingEvents) error {
		now := l.now()

		holds, err := tx.ListReservations(ctx, tenantID, orderID, domain.ReservationStatusActive)
		if err != nil {
			return err
		}

		qty := make(map[domain.SnapshotKey]int)
		var keys []domain.SnapshotKey
		live := make([]domain.Reservation, 0, len(holds))
		for _, r := range holds {
			if !r.Holds(now) {
				if err := tx.UpdateReservationStatus(ctx, r.ID, domain.ReservationStatusActive, domain.ReservationStatusReleased); err != nil {
					return err
				}
				continue
			}
			if _, seen := qty[r.Key()]; !seen {
				keys = append(keys, r.Key())
			}
			qty[r.Key()] += r.Quantity
			live = append(live, r)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].SKU != keys[j].SKU {
				return keys[i].SKU < keys[j].SKU
			}
			return keys[i].LocationID < keys[j].LocationID
		})

		for _, key := range keys {
			snap, err := tx.GetSnapshot(ctx, key)
			if err != nil {
				return err
			}
			if snap == nil {
				return domain.InventoryNotFound(key.SKU, key.LocationID)
			}
			n := qty[key]
			if !availability.CanRemove(*snap, n, n) {
				others := availability.ExcludingHolds(*snap, n)
				return domain.InsufficientInventory(key.SKU, n, availability.AvailableQty(others))
			}

			after := availability.ExcludingHolds(*snap, n)
			after.OnHand -= n
			meta := map[string]string{
				"orderId":    orderID,
				"quantity":   strconv.Itoa(n),
				"locationId": key.LocationID,
			}
			if _, err := l.writeSnapshot(ctx, tx, *snap, after, domain.AuditActionReservationFulfillment, meta, actor, out); err != nil {
				return err
			}
		}

		for i := range live {
			if err := tx.UpdateReservationStatus(ctx, live[i].ID, domain.ReservationStatusActive, domain.ReservationStatusFulfilled); err != nil {
				return err
			}
			live[i].Status = domain.ReservationStatusFulfilled
			live[i].UpdatedAt = now
		}
		fulfilled = live
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fulfilled, nil
}

// ExpireStale marks every active hold past its expiry as released.
func (l *ReservationLedger) ExpireStale(ctx context.Context) (int, error) {
	var expired int
	err := l.execute(ctx, opExpire, func(ctx context.Context, tx port.TxRepository, _ *pendingEvents) error {
		n, err := tx.ExpireReservations(ctx, l.now())
		expired = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// RunSweeper calls ExpireStale every interval until ctx is done.
func (l *ReservationLedger) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Info(ctx, l.logger, "reservation sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, l.logger, "reservation sweeper stopped")
			return
		case <-ticker.C:
			n, err := l.ExpireStale(ctx)
			if err != nil {
				continue
			}
			if n > 0 {
				logging.Info(ctx, l.logger, "expired reservations released", zap.Int("count", n))
			}
		}
	}
}

func atLocation(snaps []domain.InventorySnapshot, locationID string) (domain.InventorySnapshot, bool) {
	for _, s := range snaps {
		if s.LocationID == locationID {
			return s, true
		}
	}
	return domain.InventorySnapshot{}, false
}
