package domain

import "time"

type SnapshotKey struct {
	TenantID   string
	SKU        string
	LocationID string
}

// EntityID is the audit entity id of the inventory row.
func (k SnapshotKey) EntityID() string {
	return k.SKU + "@" + k.LocationID
}

type InventorySnapshot struct {
	TenantID   string
	SKU        string
	LocationID string
	OnHand     int
	Allocated  int
	Reserved   int   // sum of active, unexpired reservations; filled by the store on read
	Version    int64 // optimistic locking
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s InventorySnapshot) Key() SnapshotKey {
	return SnapshotKey{TenantID: s.TenantID, SKU: s.SKU, LocationID: s.LocationID}
}

// State is the audited part of the row. Reserved is derived from reservations and is not audited.
func (s InventorySnapshot) State() InventoryState {
	return InventoryState{OnHand: s.OnHand, Allocated: s.Allocated, Version: s.Version}
}

func NewSnapshot(key SnapshotKey, onHand int, now time.Time) InventorySnapshot {
	return InventorySnapshot{
		TenantID:   key.TenantID,
		SKU:        key.SKU,
		LocationID: key.LocationID,
		OnHand:     onHand,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
