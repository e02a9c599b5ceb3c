package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/availability"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/logging"
	"github.com/rl1809/inventory-engine/internal/port"
)

const (
	opAllocate = "InventoryEngine.Allocate"
	opRelease  = "InventoryEngine.Release"
	opShip     = "InventoryEngine.Ship"
	opAdjust   = "InventoryEngine.Adjust"
)

type AdjustPolicy string

const (
	// AdjustPolicyClamp floors a negative result at zero and marks the audit record clamped.
	AdjustPolicyClamp AdjustPolicy = "clamp"
	// AdjustPolicyReject fails an adjustment that would take onHand below zero.
	AdjustPolicyReject AdjustPolicy = "reject"
)

// ParseAdjustPolicy maps a configured policy name to a policy. Empty means clamp.
func ParseAdjustPolicy(name string) (AdjustPolicy, error) {
	switch p := AdjustPolicy(name); p {
	case "":
		return AdjustPolicyClamp, nil
	case AdjustPolicyClamp, AdjustPolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown adjust policy %q", name)
	}
}

type EngineConfig struct {
	OperationTimeout time.Duration
	AdjustPolicy     AdjustPolicy
}

// InventoryEngine applies allocations, releases, shipments and adjustments. Every call is one
// serializable transaction: all of its row changes commit together or none do.
type InventoryEngine struct {
	*txRunner
	policy AdjustPolicy
}

func NewInventoryEngine(repo port.DatabaseRepository, publisher port.EventPublisher, logger *zap.Logger, cfg EngineConfig, opts ...Option) *InventoryEngine {
	policy := cfg.AdjustPolicy
	if policy == "" {
		policy = AdjustPolicyClamp
	}
	return &InventoryEngine{
		txRunner: newTxRunner(repo, publisher, logger, cfg.OperationTimeout, "inventory-engine", opts),
		policy:   policy,
	}
}

type allocateInput struct {
	OrderID    string             `validate:"required"`
	Items      []domain.OrderLine `validate:"required,min=1,dive"`
	LocationID string             `validate:"required"`
	Actor      string             `validate:"required"`
}

type orderInput struct {
	OrderID    string `validate:"required"`
	LocationID string `validate:"required"`
	Actor      string `validate:"required"`
}

type adjustInput struct {
	TenantID   string `validate:"required"`
	SKU        string `validate:"required"`
	Delta      int    `validate:"ne=0"`
	Reason     string `validate:"required"`
	LocationID string `validate:"required"`
	Actor      string `validate:"required"`
}

// Allocate commits stock at locationID to a DRAFT order and submits it. Holds the order placed
// through the reservation ledger at that location are converted into the allocation; holds
// elsewhere are released.
func (e *InventoryEngine) Allocate(ctx context.Context, orderID string, items []domain.OrderLine, locationID, actor string) (*domain.Order, error) {
	if err := e.check(allocateInput{OrderID: orderID, Items: items, LocationID: locationID, Actor: actor}); err != nil {
		return nil, err
	}
	lines := domain.MergeLines(items)

	var result *domain.Order
	err := e.execute(ctx, opAllocate, func(ctx context.Context, tx port.TxRepository, out *pendingEvents) error {
		order, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusSubmitted) {
			return domain.InvalidOrderStatus(order.ID, order.Status, "allocation requires a DRAFT order")
		}

		now := e.now()
		holds, err := tx.ListReservations(ctx, order.TenantID, order.ID, domain.ReservationStatusActive)
		if err != nil {
			return err
		}
		own := make(map[string]int)
		for _, r := range holds {
			if r.LocationID == locationID && r.Holds(now) {
				own[r.SKU] += r.Quantity
			}
		}

		current := make([]domain.InventorySnapshot, len(lines))
		for i, line := range lines {
			key := domain.SnapshotKey{TenantID: order.TenantID, SKU: line.SKU, LocationID: locationID}
			snap, err := tx.GetSnapshot(ctx, key)
			if err != nil {
				return err
			}
			if snap == nil {
				return domain.InventoryNotFound(line.SKU, locationID)
			}

			current[i] = availability.ExcludingHolds(*snap, own[line.SKU])
			if !availability.IsAvailable(current[i], line.Quantity) {
				return domain.InsufficientInventory(line.SKU, line.Quantity, availability.AvailableQty(current[i]))
			}
		}

		for i, line := range lines {
			after := current[i]
			after.Allocated += line.Quantity
			meta := map[string]string{
				"orderId":    order.ID,
				"quantity":   strconv.Itoa(line.Quantity),
				"locationId": locationID,
			}
			if _, err := e.writeSnapshot(ctx, tx, current[i], after, domain.AuditActionAllocation, meta, actor, out); err != nil {
				return err
			}
		}

		// allocated stock supersedes every hold the order still has, wherever it was placed
		if _, err := releaseHolds(ctx, tx, order.TenantID, order.ID); err != nil {
			return err
		}

		if err := tx.ReplaceOrderLines(ctx, order.ID, lines); err != nil {
			return err
		}
		order.Lines = lines
		order.LocationID = locationID

		result, err = e.transition(ctx, tx, *order, domain.OrderStatusSubmitted, domain.AuditActionAllocation,
			map[string]string{"locationId": locationID, "lines": strconv.Itoa(len(lines))}, actor, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release cancels an order. A SUBMITTED order gives its allocation back; a DRAFT order only
// changes status. Any holds the order still has are released too.
func (e *InventoryEngine) Release(ctx context.Context, orderID, locationID, actor string) (*domain.Order, error) {
	if err := e.check(orderInput{OrderID: orderID, LocationID: locationID, Actor: actor}); err != nil {
		return nil, err
	}

	var result *domain.Order
	err := e.execute(ctx, opRelease, func(ctx context.Context, tx port.TxRepository, out *pendingEvents) error {
		order, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return domain.InvalidOrderStatus(order.ID, order.Status, "only DRAFT or SUBMITTED orders can be released")
		}
		if err := checkLocation(order, locationID); err != nil {
			return err
		}

		if order.Status == domain.OrderStatusSubmitted {
			for _, line := range order.Lines {
				key := domain.SnapshotKey{TenantID: order.TenantID, SKU: line.SKU, LocationID: locationID}
				snap, err := tx.GetSnapshot(ctx, key)
				if err != nil {
					return err
				}
				if snap == nil {
					logging.Warn(ctx, e.logger, "inventory row missing on release, skipping line",
						zap.String("order_id", order.ID), zap.String("sku", line.SKU), zap.String("location_id", locationID))
					continue
				}

				after := *snap
				after.Allocated = max(0, snap.Allocated-line.Quantity)
				meta := map[string]string{
					"orderId":    order.ID,
					"quantity":   strconv.Itoa(snap.Allocated - after.Allocated),
					"locationId": locationID,
				}
				if _, err := e.writeSnapshot(ctx, tx, *snap, after, domain.AuditActionRelease, meta, actor, out); err != nil {
					return err
				}
			}
		}

		if _, err := releaseHolds(ctx, tx, order.TenantID, order.ID); err != nil {
			return err
		}

		result, err = e.transition(ctx, tx, *order, domain.OrderStatusCancelled, domain.AuditActionRelease,
			map[string]string{"locationId": locationID}, actor, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Ship removes a SUBMITTED order's lines from the shelf and closes the order as FULFILLED.
func (e *InventoryEngine) Ship(ctx context.Context, orderID, trackingRef, locationID, actor string) (*domain.Order, error) {
	if err := e.check(orderInput{OrderID: orderID, LocationID: locationID, Actor: actor}); err != nil {
		return nil, err
	}

	var result *domain.Order
	err := e.execute(ctx, opShip, func(ctx context.Context, tx port.TxRepository, out *pendingEvents) error {
		order, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusFulfilled) {
			return domain.InvalidOrderStatus(order.ID, order.Status, "shipment requires a SUBMITTED order")
		}
		if err := checkLocation(order, locationID); err != nil {
			return err
		}

		for _, line := range order.Lines {
			key := domain.SnapshotKey{TenantID: order.TenantID, SKU: line.SKU, LocationID: locationID}
			snap, err := tx.GetSnapshot(ctx, key)
			if err != nil {
				return err
			}
			if snap == nil {
				return domain.InventoryNotFound(line.SKU, locationID)
			}
			if snap.Allocated < line.Quantity {
				return domain.InsufficientAllocation(line.SKU, line.Quantity, snap.Allocated, "allocated stock below shipment quantity")
			}
			if snap.OnHand < line.Quantity {
				return domain.InsufficientAllocation(line.SKU, line.Quantity, snap.OnHand, "on-hand stock below shipment quantity")
			}

			after := *snap
			after.OnHand -= line.Quantity
			after.Allocated -= line.Quantity
			meta := map[string]string{
				"orderId":    order.ID,
				"quantity":   strconv.Itoa(line.Quantity),
				"locationId": locationID,
			}
			if trackingRef != "" {
				meta["trackingNumber"] = trackingRef
			}
			if _, err := e.writeSnapshot(ctx, tx, *snap, after, domain.AuditActionShipment, meta, actor, out); err != nil {
				return err
			}
		}

		meta := map[string]string{"locationId": locationID}
		if trackingRef != "" {
			meta["trackingNumber"] = trackingRef
		}
		result, err = e.transition(ctx, tx, *order, domain.OrderStatusFulfilled, domain.AuditActionShipment, meta, actor, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Adjust corrects onHand by delta, creating the row on first use.
func (e *InventoryEngine) Adjust(ctx context.Context, tenantID, sku string, delta int, reason, locationID, actor string) (*domain.InventorySnapshot, error) {
	input := adjustInput{TenantID: tenantID, SKU: sku, Delta: delta, Reason: reason, LocationID: locationID, Actor: actor}
	if err := e.check(input); err != nil {
		return nil, err
	}

	var result *domain.InventorySnapshot
	err := e.execute(ctx, opAdjust, func(ctx context.Context, tx port.TxRepository, out *pendingEvents) error {
		key := domain.SnapshotKey{TenantID: tenantID, SKU: sku, LocationID: locationID}
		meta := map[string]string{
			"reason": reason,
			"delta":  strconv.Itoa(delta),
		}

		snap, err := tx.GetSnapshot(ctx, key)
		if err != nil {
			return err
		}

		if snap == nil {
			if delta < 0 {
				if e.policy == AdjustPolicyReject {
					return domain.InsufficientInventory(sku, -delta, 0)
				}
				meta["clamped"] = "true"
			}

			now := e.now()
			created := domain.NewSnapshot(key, max(0, delta), now)
			if err := tx.InsertSnapshot(ctx, created); err != nil {
				return err
			}
			empty := domain.InventorySnapshot{TenantID: tenantID, SKU: sku, LocationID: locationID}
			if err := e.recordStockChange(ctx, tx, empty, created, domain.AuditActionAdjustment, meta, actor, now, out); err != nil {
				return err
			}
			result = &created
			return nil
		}

		next := snap.OnHand + delta
		if next < 0 {
			if e.policy == AdjustPolicyReject {
				return domain.InsufficientInventory(sku, -delta, snap.OnHand)
			}
			next = 0
			meta["clamped"] = "true"
		}

		after := *snap
		after.OnHand = next
		written, err := e.writeSnapshot(ctx, tx, *snap, after, domain.AuditActionAdjustment, meta, actor, out)
		if err != nil {
			return err
		}
		result = &written
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *InventoryEngine) transition(ctx context.Context, tx port.TxRepository, order domain.Order, next domain.OrderStatus, action domain.AuditAction, metadata map[string]string, actor string, out *pendingEvents) (*domain.Order, error) {
	now := e.now()
	before := order.State()
	previous := order.Status

	order.Status = next
	switch next {
	case domain.OrderStatusSubmitted:
		order.OrderedAt = &now
	case domain.OrderStatusFulfilled:
		order.FulfilledAt = &now
	}

	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	order.Version++
	order.UpdatedAt = now

	record, err := domain.NewOrderAudit(e.newID(), order, action, before, order.State(), metadata, actor, now)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, record); err != nil {
		return nil, err
	}

	out.orders = append(out.orders, domain.OrderStatusEvent{
		EventID:        e.newID(),
		TenantID:       order.TenantID,
		OrderID:        order.ID,
		PreviousStatus: previous,
		Status:         next,
		UpdatedAt:      now,
	})
	return &order, nil
}

func loadOrder(ctx context.Context, tx port.TxRepository, orderID string) (*domain.Order, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.OrderNotFound(orderID)
	}
	return order, nil
}

// checkLocation rejects a release or shipment at a location other than the one the order's
// stock was allocated at. Orders with no recorded location accept the caller's.
func checkLocation(order *domain.Order, locationID string) error {
	if order.LocationID == "" || order.LocationID == locationID {
		return nil
	}
	return domain.InvalidArgument(fmt.Sprintf("order %s is allocated at location %s, not %s", order.ID, order.LocationID, locationID))
}

// releaseHolds marks every ACTIVE reservation of the order RELEASED, expired or not.
func releaseHolds(ctx context.Context, tx port.TxRepository, tenantID, orderID string) (int, error) {
	holds, err := tx.ListReservations(ctx, tenantID, orderID, domain.ReservationStatusActive)
	if err != nil {
		return 0, err
	}
	for _, r := range holds {
		if err := tx.UpdateReservationStatus(ctx, r.ID, domain.ReservationStatusActive, domain.ReservationStatusReleased); err != nil {
			return 0, err
		}
	}
	return len(holds), nil
}
