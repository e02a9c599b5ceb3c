package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type AuditEntityType string

const (
	AuditEntityInventory AuditEntityType = "INVENTORY"
	AuditEntityOrder     AuditEntityType = "ORDER"
)

type AuditAction string

const (
	AuditActionAllocation             AuditAction = "ALLOCATION"
	AuditActionRelease                AuditAction = "RELEASE"
	AuditActionShipment               AuditAction = "SHIPMENT"
	AuditActionAdjustment             AuditAction = "ADJUSTMENT"
	AuditActionReservationFulfillment AuditAction = "RESERVATION_FULFILLMENT"
)

type InventoryState struct {
	OnHand    int   `json:"onHand"`
	Allocated int   `json:"allocated"`
	Version   int64 `json:"version"`
}

type OrderState struct {
	Status      OrderStatus `json:"status"`
	OrderedAt   *time.Time  `json:"orderedAt,omitempty"`
	FulfilledAt *time.Time  `json:"fulfilledAt,omitempty"`
}

// AuditRecord is immutable once appended.
type AuditRecord struct {
	ID         string
	TenantID   string
	EntityType AuditEntityType
	EntityID   string
	Action     AuditAction
	Before     json.RawMessage
	After      json.RawMessage
	Metadata   map[string]string
	Actor      string
	CreatedAt  time.Time
}

func NewInventoryAudit(id string, key SnapshotKey, action AuditAction, before, after InventoryState, metadata map[string]string, actor string, at time.Time) (AuditRecord, error) {
	return newAudit(id, key.TenantID, AuditEntityInventory, key.EntityID(), action, before, after, metadata, actor, at)
}

func NewOrderAudit(id string, order Order, action AuditAction, before, after OrderState, metadata map[string]string, actor string, at time.Time) (AuditRecord, error) {
	return newAudit(id, order.TenantID, AuditEntityOrder, order.ID, action, before, after, metadata, actor, at)
}

func newAudit(id, tenantID string, entityType AuditEntityType, entityID string, action AuditAction, before, after any, metadata map[string]string, actor string, at time.Time) (AuditRecord, error) {
	b, err := json.Marshal(before)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("marshal before state: %w", err)
	}
	a, err := json.Marshal(after)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("marshal after state: %w", err)
	}
	return AuditRecord{
		ID:         id,
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Before:     b,
		After:      a,
		Metadata:   metadata,
		Actor:      actor,
		CreatedAt:  at,
	}, nil
}

func (r AuditRecord) InventoryStates() (before, after InventoryState, err error) {
	if r.EntityType != AuditEntityInventory {
		return before, after, fmt.Errorf("audit %s is not an inventory record", r.ID)
	}
	if err := json.Unmarshal(r.Before, &before); err != nil {
		return before, after, fmt.Errorf("unmarshal before state: %w", err)
	}
	if err := json.Unmarshal(r.After, &after); err != nil {
		return before, after, fmt.Errorf("unmarshal after state: %w", err)
	}
	return before, after, nil
}

// ReplayInventory folds the inventory records of one row, oldest first, starting from the
// empty row. It fails when a record's before state does not continue the previous after state.
func ReplayInventory(records []AuditRecord) (InventoryState, error) {
	var state InventoryState
	for _, r := range records {
		if r.EntityType != AuditEntityInventory {
			continue
		}
		before, after, err := r.InventoryStates()
		if err != nil {
			return state, err
		}
		if before.OnHand != state.OnHand || before.Allocated != state.Allocated {
			return state, fmt.Errorf("audit %s: drift at version %d: have onHand=%d allocated=%d, record starts at onHand=%d allocated=%d",
				r.ID, before.Version, state.OnHand, state.Allocated, before.OnHand, before.Allocated)
		}
		state.OnHand += after.OnHand - before.OnHand
		state.Allocated += after.Allocated - before.Allocated
		state.Version = after.Version
	}
	return state, nil
}
