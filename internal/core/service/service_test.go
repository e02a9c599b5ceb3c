package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/adapter/storage"
	"github.com/rl1809/inventory-engine/internal/core/domain"
)

const (
	tenant   = "tenant-1"
	location = "main"
	east     = "east"
	actor    = "tester"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	stock  []domain.StockChangedEvent
	orders []domain.OrderStatusEvent
	err    error
}

func (p *recordingPublisher) PublishInventoryStockChanged(_ context.Context, ev domain.StockChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.stock = append(p.stock, ev)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusUpdated(_ context.Context, ev domain.OrderStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.orders = append(p.orders, ev)
	return nil
}

func (p *recordingPublisher) stockEvents() []domain.StockChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.StockChangedEvent(nil), p.stock...)
}

func (p *recordingPublisher) orderEvents() []domain.OrderStatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OrderStatusEvent(nil), p.orders...)
}

type fixture struct {
	clock  *testClock
	store  *storage.MemoryAdapter
	events *recordingPublisher
	engine *InventoryEngine
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()

	clock := newTestClock()
	store := storage.NewMemoryAdapter(time.Second).WithClock(clock.Now)
	events := &recordingPublisher{}

	return &fixture{
		clock:  clock,
		store:  store,
		events: events,
		engine: NewInventoryEngine(store, events, zap.NewNop(), cfg, WithClock(clock.Now)),
	}
}

func (f *fixture) seed(t *testing.T, sku string, onHand int) {
	t.Helper()
	_, err := f.engine.Adjust(context.Background(), tenant, sku, onHand, "initial count", location, actor)
	require.NoError(t, err)
}

func (f *fixture) newOrder(t *testing.T, id string, lines ...domain.OrderLine) {
	t.Helper()
	err := f.store.CreateOrder(context.Background(), domain.Order{
		ID:         id,
		TenantID:   tenant,
		CustomerID: "customer-1",
		Lines:      lines,
	})
	require.NoError(t, err)
}

func (f *fixture) seedAt(t *testing.T, sku, locationID string, onHand int) {
	t.Helper()
	_, err := f.engine.Adjust(context.Background(), tenant, sku, onHand, "initial count", locationID, actor)
	require.NoError(t, err)
}

func (f *fixture) snapshot(t *testing.T, sku string) domain.InventorySnapshot {
	t.Helper()
	return f.snapshotAt(t, sku, location)
}

func (f *fixture) snapshotAt(t *testing.T, sku, locationID string) domain.InventorySnapshot {
	t.Helper()
	snap, err := f.store.GetSnapshot(context.Background(), domain.SnapshotKey{TenantID: tenant, SKU: sku, LocationID: locationID})
	require.NoError(t, err)
	require.NotNil(t, snap)
	return *snap
}

func (f *fixture) order(t *testing.T, id string) domain.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return *o
}

func (f *fixture) inventoryAudit(t *testing.T, sku string) []domain.AuditRecord {
	t.Helper()
	key := domain.SnapshotKey{TenantID: tenant, SKU: sku, LocationID: location}
	records, err := f.store.ListAuditRecords(context.Background(), tenant, domain.AuditEntityInventory, key.EntityID())
	require.NoError(t, err)
	return records
}

func line(sku string, qty int) domain.OrderLine {
	return domain.OrderLine{SKU: sku, Quantity: qty}
}

func countAction(records []domain.AuditRecord, action domain.AuditAction) int {
	n := 0
	for _, r := range records {
		if r.Action == action {
			n++
		}
	}
	return n
}
