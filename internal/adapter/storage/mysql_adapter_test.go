package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/core/service"
	"github.com/rl1809/inventory-engine/internal/port"
	"github.com/rl1809/inventory-engine/migrations"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/inventory?parseTime=true&multiStatements=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := migrations.Up(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db
}

func testTenant() string {
	return "test-" + uuid.NewString()
}

func TestMySQLRunInTx_CompareAndSwap(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 2*time.Second)
	key := domain.SnapshotKey{TenantID: testTenant(), SKU: "SKU-1", LocationID: "main"}

	// Setup
	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		return tx.InsertSnapshot(ctx, domain.NewSnapshot(key, 100, time.Now().UTC()))
	})
	if err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}

	// Test - update against the current version succeeds
	err = adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		snap, err := tx.GetSnapshot(ctx, key)
		if err != nil {
			return err
		}
		snap.Allocated = 10
		return tx.UpdateSnapshot(ctx, *snap)
	})
	if err != nil {
		t.Fatalf("update snapshot: %v", err)
	}

	// Test - update against a stale version conflicts
	stale := domain.NewSnapshot(key, 100, time.Now().UTC())
	stale.Allocated = 99
	err = adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		return tx.UpdateSnapshot(ctx, stale)
	})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}

	// Verify
	snap, err := adapter.GetSnapshot(ctx, key)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Allocated != 10 || snap.Version != 2 {
		t.Errorf("expected allocated 10 at version 2, got %d at %d", snap.Allocated, snap.Version)
	}
}

func TestMySQLRunInTx_SnapshotReadsQueueWriters(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	key := domain.SnapshotKey{TenantID: testTenant(), SKU: "SKU-1", LocationID: "main"}

	// Setup
	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		return tx.InsertSnapshot(ctx, domain.NewSnapshot(key, 100, time.Now().UTC()))
	})
	if err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}

	allocate := func(ctx context.Context, tx port.TxRepository) error {
		snap, err := tx.GetSnapshot(ctx, key)
		if err != nil {
			return err
		}
		snap.Allocated += 10
		return tx.UpdateSnapshot(ctx, *snap)
	}

	// Test - the second reader waits for the first writer instead of deadlocking with it
	read := make(chan struct{})
	errs := make(chan error, 2)
	go func() {
		errs <- adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
			snap, err := tx.GetSnapshot(ctx, key)
			if err != nil {
				return err
			}
			close(read)
			time.Sleep(200 * time.Millisecond)
			snap.Allocated += 10
			return tx.UpdateSnapshot(ctx, *snap)
		})
	}()
	<-read
	errs <- adapter.RunInTx(ctx, allocate)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("transaction %d: %v", i, err)
		}
	}

	// Verify
	snap, err := adapter.GetSnapshot(ctx, key)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Allocated != 20 || snap.Version != 3 {
		t.Errorf("expected allocated 20 at version 3, got %d at %d", snap.Allocated, snap.Version)
	}
}

func TestMySQLOrderLocation_RoundTrip(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 2*time.Second)
	orderID := uuid.NewString()

	if err := adapter.CreateOrder(ctx, domain.Order{ID: orderID, TenantID: testTenant()}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order.Status = domain.OrderStatusSubmitted
		order.LocationID = "east"
		return tx.UpdateOrder(ctx, *order)
	})
	if err != nil {
		t.Fatalf("update order: %v", err)
	}

	order, err := adapter.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.LocationID != "east" || order.Status != domain.OrderStatusSubmitted {
		t.Errorf("expected SUBMITTED at east, got %s at %q", order.Status, order.LocationID)
	}
}

func TestMySQLRunInTx_RollbackOnError(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 2*time.Second)
	key := domain.SnapshotKey{TenantID: testTenant(), SKU: "SKU-1", LocationID: "main"}
	boom := errors.New("boom")

	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		if err := tx.InsertSnapshot(ctx, domain.NewSnapshot(key, 100, time.Now().UTC())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	snap, err := adapter.GetSnapshot(ctx, key)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap != nil {
		t.Errorf("expected no row after rollback, got %+v", snap)
	}
}

func TestMySQLReservedCountsLiveHoldsOnly(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	adapter := NewMySQLAdapter(db, 2*time.Second).WithClock(func() time.Time { return now })
	key := domain.SnapshotKey{TenantID: testTenant(), SKU: "SKU-1", LocationID: "main"}

	hold := func(id string, qty int, status domain.ReservationStatus, expires time.Time) domain.Reservation {
		return domain.Reservation{
			ID: id, TenantID: key.TenantID, SKU: key.SKU, LocationID: key.LocationID, OrderID: "order-1",
			Quantity: qty, Status: status, ExpiresAt: expires, CreatedAt: now, UpdatedAt: now,
		}
	}

	// Setup
	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		if err := tx.InsertSnapshot(ctx, domain.NewSnapshot(key, 100, now)); err != nil {
			return err
		}
		for _, r := range []domain.Reservation{
			hold(uuid.NewString(), 7, domain.ReservationStatusActive, now.Add(time.Hour)),
			hold(uuid.NewString(), 5, domain.ReservationStatusActive, now.Add(-time.Minute)),
			hold(uuid.NewString(), 3, domain.ReservationStatusReleased, now.Add(time.Hour)),
		} {
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Verify
	snap, err := adapter.GetSnapshot(ctx, key)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Reserved != 7 {
		t.Errorf("expected reserved 7, got %d", snap.Reserved)
	}

	var expired int
	err = adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		var err error
		expired, err = tx.ExpireReservations(ctx, now)
		return err
	})
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired < 1 {
		t.Errorf("expected the stale hold to expire, got %d", expired)
	}

	holds, err := adapter.ListReservations(ctx, key.TenantID, "order-1")
	if err != nil {
		t.Fatalf("list reservations: %v", err)
	}
	if len(holds) != 3 {
		t.Errorf("expected 3 reservations, got %d", len(holds))
	}
}

func TestMySQLAuditAppendOnly(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 2*time.Second)
	key := domain.SnapshotKey{TenantID: testTenant(), SKU: "SKU-1", LocationID: "main"}
	now := time.Now().UTC()

	states := []domain.InventoryState{{}, {OnHand: 100, Version: 1}, {OnHand: 100, Allocated: 10, Version: 2}}
	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.TxRepository) error {
		for i := 1; i < len(states); i++ {
			r, err := domain.NewInventoryAudit(uuid.NewString(), key, domain.AuditActionAdjustment,
				states[i-1], states[i], map[string]string{"reason": "test"}, "tester", now)
			if err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}

	records, err := adapter.ListAuditRecords(ctx, key.TenantID, domain.AuditEntityInventory, key.EntityID())
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Metadata["reason"] != "test" {
		t.Errorf("metadata not preserved: %v", records[0].Metadata)
	}

	replayed, err := domain.ReplayInventory(records)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed != states[2] {
		t.Errorf("expected %+v, got %+v", states[2], replayed)
	}
}

func TestMySQLEngine_ConcurrentAllocate(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 2*time.Second)
	engine := service.NewInventoryEngine(adapter, discardEvents{}, zap.NewNop(), service.EngineConfig{OperationTimeout: 5 * time.Second})
	tenant := testTenant()

	// Setup
	if _, err := engine.Adjust(ctx, tenant, "SKU-1", 100, "initial count", "main", "tester"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	orderIDs := []string{uuid.NewString(), uuid.NewString()}
	for _, id := range orderIDs {
		if err := adapter.CreateOrder(ctx, domain.Order{ID: id, TenantID: tenant}); err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	// Test
	var wg sync.WaitGroup
	errs := make([]error, len(orderIDs))
	for i, id := range orderIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = engine.Allocate(ctx, id, []domain.OrderLine{{SKU: "SKU-1", Quantity: 60}}, "main", "tester")
		}(i, id)
	}
	wg.Wait()

	// Verify
	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientInventory), errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrTimeout):
		default:
			t.Errorf("unexpected error kind: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one allocation, got %d", succeeded)
	}

	snap, err := adapter.GetSnapshot(ctx, domain.SnapshotKey{TenantID: tenant, SKU: "SKU-1", LocationID: "main"})
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Allocated != 60 {
		t.Errorf("expected allocated 60, got %d", snap.Allocated)
	}
}

type discardEvents struct{}

func (discardEvents) PublishInventoryStockChanged(context.Context, domain.StockChangedEvent) error {
	return nil
}

func (discardEvents) PublishOrderStatusUpdated(context.Context, domain.OrderStatusEvent) error {
	return nil
}
