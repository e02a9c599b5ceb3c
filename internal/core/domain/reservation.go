package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
)

// Reservation is a soft hold on stock ahead of formal allocation.
type Reservation struct {
	ID         string
	TenantID   string
	SKU        string
	LocationID string
	OrderID    string
	Quantity   int
	Status     ReservationStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r Reservation) Key() SnapshotKey {
	return SnapshotKey{TenantID: r.TenantID, SKU: r.SKU, LocationID: r.LocationID}
}

// Holds reports whether the reservation counts toward reserved stock at now.
func (r Reservation) Holds(now time.Time) bool {
	return r.Status == ReservationStatusActive && now.Before(r.ExpiresAt)
}
