package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

// MemoryAdapter is an in-process store with the same transactional contract as MySQLAdapter.
// Transactions run one at a time through a single slot; each works on a private copy of the
// state that replaces the committed state only when the transaction succeeds.
type MemoryAdapter struct {
	txSlot         chan struct{}
	acquireTimeout time.Duration
	now            func() time.Time

	mu    sync.RWMutex
	state *memoryState
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

type memoryState struct {
	orders       map[string]domain.Order
	snapshots    map[domain.SnapshotKey]domain.InventorySnapshot
	reservations map[string]domain.Reservation
	audits       []domain.AuditRecord
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		orders:       maps.Clone(s.orders),
		snapshots:    maps.Clone(s.snapshots),
		reservations: maps.Clone(s.reservations),
		audits:       slices.Clip(s.audits),
	}
}

func NewMemoryAdapter(acquireTimeout time.Duration) *MemoryAdapter {
	return &MemoryAdapter{
		txSlot:         make(chan struct{}, 1),
		acquireTimeout: acquireTimeout,
		now:            time.Now,
		state: &memoryState{
			orders:       make(map[string]domain.Order),
			snapshots:    make(map[domain.SnapshotKey]domain.InventorySnapshot),
			reservations: make(map[string]domain.Reservation),
		},
	}
}

func (m *MemoryAdapter) WithClock(now func() time.Time) *MemoryAdapter {
	m.now = now
	return m
}

func (m *MemoryAdapter) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.TxRepository) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-m.txSlot }()

	m.mu.RLock()
	staged := m.state.clone()
	m.mu.RUnlock()

	if err := fn(ctx, &memoryTx{state: staged, now: m.now}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Timeout(fmt.Errorf("commit: %w", err))
		}
		return fmt.Errorf("commit: %w", err)
	}

	m.mu.Lock()
	m.state = staged
	m.mu.Unlock()

	return nil
}

func (m *MemoryAdapter) acquire(ctx context.Context) error {
	var expired <-chan time.Time
	if m.acquireTimeout > 0 {
		timer := time.NewTimer(m.acquireTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case m.txSlot <- struct{}{}:
		return nil
	case <-expired:
		return domain.Timeout(fmt.Errorf("acquire transaction: waited %s", m.acquireTimeout))
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Timeout(fmt.Errorf("acquire transaction: %w", ctx.Err()))
		}
		return fmt.Errorf("acquire transaction: %w", ctx.Err())
	}
}

func (m *MemoryAdapter) GetSnapshot(_ context.Context, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.snapshot(key, m.now()), nil
}

func (m *MemoryAdapter) ListSnapshots(_ context.Context, tenantID, sku string) ([]domain.InventorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.listSnapshots(tenantID, sku, m.now()), nil
}

func (m *MemoryAdapter) ListAuditRecords(_ context.Context, tenantID string, entityType domain.AuditEntityType, entityID string) ([]domain.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.AuditRecord
	for _, r := range m.state.audits {
		if r.TenantID == tenantID && r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) Ping(context.Context) error {
	return nil
}

// CreateOrder stores a new order, DRAFT unless a status is given.
func (m *MemoryAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	return m.RunInTx(ctx, func(_ context.Context, tx port.TxRepository) error {
		state := tx.(*memoryTx).state
		if _, ok := state.orders[order.ID]; ok {
			return fmt.Errorf("insert order %s: already exists", order.ID)
		}
		if order.Status == "" {
			order.Status = domain.OrderStatusDraft
		}
		now := m.now()
		order.Version = 1
		order.Lines = slices.Clone(order.Lines)
		order.CreatedAt, order.UpdatedAt = now, now
		state.orders[order.ID] = order
		return nil
	})
}

func (m *MemoryAdapter) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.order(orderID), nil
}

func (m *MemoryAdapter) ListReservations(_ context.Context, tenantID, orderID string) ([]domain.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.listReservations(tenantID, orderID, ""), nil
}

func (s *memoryState) order(orderID string) *domain.Order {
	o, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	o.Lines = slices.Clone(o.Lines)
	return &o
}

func (s *memoryState) snapshot(key domain.SnapshotKey, asOf time.Time) *domain.InventorySnapshot {
	snap, ok := s.snapshots[key]
	if !ok {
		return nil
	}
	snap.Reserved = s.reservedAt(key, asOf)
	return &snap
}

func (s *memoryState) listSnapshots(tenantID, sku string, asOf time.Time) []domain.InventorySnapshot {
	var out []domain.InventorySnapshot
	for key, snap := range s.snapshots {
		if key.TenantID == tenantID && key.SKU == sku {
			snap.Reserved = s.reservedAt(key, asOf)
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

func (s *memoryState) reservedAt(key domain.SnapshotKey, asOf time.Time) int {
	total := 0
	for _, r := range s.reservations {
		if r.Key() == key && r.Holds(asOf) {
			total += r.Quantity
		}
	}
	return total
}

func (s *memoryState) listReservations(tenantID, orderID string, status domain.ReservationStatus) []domain.Reservation {
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.OrderID == orderID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	return t.state.order(orderID), nil
}

func (t *memoryTx) UpdateOrder(_ context.Context, order domain.Order) error {
	cur, ok := t.state.orders[order.ID]
	if !ok || cur.Version != order.Version {
		return ErrOptimisticLock
	}

	cur.Status = order.Status
	cur.LocationID = order.LocationID
	cur.OrderedAt = order.OrderedAt
	cur.FulfilledAt = order.FulfilledAt
	cur.Version++
	cur.UpdatedAt = t.now()
	t.state.orders[order.ID] = cur

	return nil
}

func (t *memoryTx) ReplaceOrderLines(_ context.Context, orderID string, lines []domain.OrderLine) error {
	cur, ok := t.state.orders[orderID]
	if !ok {
		return fmt.Errorf("replace order lines: order %s not found", orderID)
	}
	cur.Lines = slices.Clone(lines)
	t.state.orders[orderID] = cur
	return nil
}

func (t *memoryTx) GetSnapshot(_ context.Context, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	return t.state.snapshot(key, t.now()), nil
}

func (t *memoryTx) ListSnapshots(_ context.Context, tenantID, sku string) ([]domain.InventorySnapshot, error) {
	return t.state.listSnapshots(tenantID, sku, t.now()), nil
}

func (t *memoryTx) InsertSnapshot(_ context.Context, snap domain.InventorySnapshot) error {
	key := snap.Key()
	if _, ok := t.state.snapshots[key]; ok {
		return fmt.Errorf("insert snapshot: %w", ErrOptimisticLock)
	}
	snap.Reserved = 0
	snap.Version = 1
	t.state.snapshots[key] = snap
	return nil
}

func (t *memoryTx) UpdateSnapshot(_ context.Context, snap domain.InventorySnapshot) error {
	key := snap.Key()
	cur, ok := t.state.snapshots[key]
	if !ok || cur.Version != snap.Version {
		return ErrOptimisticLock
	}

	cur.OnHand = snap.OnHand
	cur.Allocated = snap.Allocated
	cur.Version++
	cur.UpdatedAt = t.now()
	t.state.snapshots[key] = cur

	return nil
}

func (t *memoryTx) AppendAudit(_ context.Context, record domain.AuditRecord) error {
	t.state.audits = append(t.state.audits, record)
	return nil
}

func (t *memoryTx) InsertReservation(_ context.Context, r domain.Reservation) error {
	if _, ok := t.state.reservations[r.ID]; ok {
		return fmt.Errorf("insert reservation %s: already exists", r.ID)
	}
	t.state.reservations[r.ID] = r
	return nil
}

func (t *memoryTx) ListReservations(_ context.Context, tenantID, orderID string, status domain.ReservationStatus) ([]domain.Reservation, error) {
	return t.state.listReservations(tenantID, orderID, status), nil
}

func (t *memoryTx) UpdateReservationStatus(_ context.Context, id string, from, to domain.ReservationStatus) error {
	r, ok := t.state.reservations[id]
	if !ok || r.Status != from {
		return ErrOptimisticLock
	}
	r.Status = to
	r.UpdatedAt = t.now()
	t.state.reservations[id] = r
	return nil
}

func (t *memoryTx) ExpireReservations(_ context.Context, asOf time.Time) (int, error) {
	n := 0
	for id, r := range t.state.reservations {
		if r.Status == domain.ReservationStatusActive && !asOf.Before(r.ExpiresAt) {
			r.Status = domain.ReservationStatusReleased
			r.UpdatedAt = t.now()
			t.state.reservations[id] = r
			n++
		}
	}
	return n, nil
}
