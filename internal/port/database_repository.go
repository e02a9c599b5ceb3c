package port

import (
	"context"
	"time"

	"github.com/rl1809/inventory-engine/internal/core/domain"
)

type DatabaseRepository interface {
	// RunInTx runs fn in one serializable transaction. The transaction commits only when fn
	// returns nil and ctx is still live; otherwise nothing fn wrote survives.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	// GetSnapshot is a read-only lookup outside any transaction. Returns nil when the row is absent.
	GetSnapshot(ctx context.Context, key domain.SnapshotKey) (*domain.InventorySnapshot, error)

	// ListSnapshots returns every location row of a SKU, read-only.
	ListSnapshots(ctx context.Context, tenantID, sku string) ([]domain.InventorySnapshot, error)

	// ListAuditRecords returns the records of one entity, oldest first.
	ListAuditRecords(ctx context.Context, tenantID string, entityType domain.AuditEntityType, entityID string) ([]domain.AuditRecord, error)

	Ping(ctx context.Context) error
}

// TxRepository is the view of the store inside a transaction. Snapshot reads fill Reserved
// with the active, unexpired reservations at the row's key.
type TxRepository interface {
	// GetOrder returns nil when the order does not exist.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// UpdateOrder writes status and timestamps with a version check for optimistic locking.
	UpdateOrder(ctx context.Context, order domain.Order) error

	ReplaceOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine) error

	// GetSnapshot returns nil when the row does not exist.
	GetSnapshot(ctx context.Context, key domain.SnapshotKey) (*domain.InventorySnapshot, error)

	ListSnapshots(ctx context.Context, tenantID, sku string) ([]domain.InventorySnapshot, error)

	// InsertSnapshot creates a row at version 1.
	InsertSnapshot(ctx context.Context, snapshot domain.InventorySnapshot) error

	// UpdateSnapshot writes onHand and allocated only if the stored version still equals
	// snapshot.Version, then bumps the version.
	UpdateSnapshot(ctx context.Context, snapshot domain.InventorySnapshot) error

	AppendAudit(ctx context.Context, record domain.AuditRecord) error

	InsertReservation(ctx context.Context, reservation domain.Reservation) error

	ListReservations(ctx context.Context, tenantID, orderID string, status domain.ReservationStatus) ([]domain.Reservation, error)

	// UpdateReservationStatus moves one reservation from -> to; zero rows is a conflict.
	UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus) error

	// ExpireReservations marks active reservations whose expiry is at or before asOf as released.
	ExpireReservations(ctx context.Context, asOf time.Time) (int, error)
}
