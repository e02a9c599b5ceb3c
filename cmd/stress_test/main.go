package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/adapter/publisher"
	"github.com/rl1809/inventory-engine/internal/adapter/storage"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/core/service"
	"github.com/rl1809/inventory-engine/internal/port"
	"github.com/rl1809/inventory-engine/migrations"
)

const (
	sku        = "stress-item"
	locationID = "main"
	actor      = "stress-test"
	maxRetries = 5
)

// orderStore is a repository that can also create the draft orders the run allocates.
type orderStore interface {
	port.DatabaseRepository
	CreateOrder(ctx context.Context, order domain.Order) error
}

func main() {
	store := flag.String("store", "memory", "store backend: memory or mysql")
	dsn := flag.String("dsn", "root:root@tcp(localhost:3306)/inventory?parseTime=true&multiStatements=true", "mysql dsn")
	initialStock := flag.Int("stock", 20, "opening on-hand quantity")
	totalOrders := flag.Int("orders", 50, "concurrent orders")
	perOrder := flag.Int("qty", 1, "units per order")
	flag.Parse()

	ctx := context.Background()
	logger := zap.NewNop()

	var repo orderStore
	switch *store {
	case "mysql":
		db, err := sql.Open("mysql", *dsn)
		if err != nil {
			log.Fatalf("failed to open mysql: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(50)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		repo = storage.NewMySQLAdapter(db, 2*time.Second)
	case "memory":
		repo = storage.NewMemoryAdapter(2 * time.Second)
	default:
		log.Fatalf("unknown store %q", *store)
	}

	engine := service.NewInventoryEngine(repo, publisher.NewLogPublisher(logger), logger, service.EngineConfig{
		OperationTimeout: 10 * time.Second,
	})

	// Fresh tenant per run so previous data does not interfere
	tenant := "stress-" + uuid.NewString()
	if _, err := engine.Adjust(ctx, tenant, sku, *initialStock, "stress seed", locationID, actor); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	orderIDs := make([]string, *totalOrders)
	for i := range orderIDs {
		orderIDs[i] = uuid.NewString()
		order := domain.Order{
			ID:       orderIDs[i],
			TenantID: tenant,
			Lines:    []domain.OrderLine{{SKU: sku, Quantity: *perOrder}},
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			log.Fatalf("failed to create order: %v", err)
		}
	}

	// Counters
	var successCount, rejectCount, errorCount, retryCount atomic.Int32

	// Spawn concurrent allocations
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()

			lines := []domain.OrderLine{{SKU: sku, Quantity: *perOrder}}
			for attempt := 0; ; attempt++ {
				_, err := engine.Allocate(ctx, orderID, lines, locationID, actor)
				switch {
				case err == nil:
					successCount.Add(1)
					return
				case errors.Is(err, domain.ErrInsufficientInventory):
					rejectCount.Add(1)
					return
				case domain.IsRetryable(err) && attempt < maxRetries:
					retryCount.Add(1)
					continue
				default:
					log.Printf("order %s: %v", orderID, err)
					errorCount.Add(1)
					return
				}
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	snap, err := repo.GetSnapshot(ctx, domain.SnapshotKey{TenantID: tenant, SKU: sku, LocationID: locationID})
	if err != nil || snap == nil {
		log.Fatalf("failed to read final snapshot: %v", err)
	}

	// Results
	expected := *initialStock / *perOrder
	if expected > *totalOrders {
		expected = *totalOrders
	}
	success := int(successCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", *store)
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Orders x Qty:     %d x %d\n", *totalOrders, *perOrder)
	fmt.Printf("Allocated:        %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejectCount.Load())
	fmt.Printf("Errored:          %d\n", errorCount.Load())
	fmt.Printf("Retries:          %d\n", retryCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == expected && errorCount.Load() == 0 {
		fmt.Printf("PASS: exactly %d orders allocated\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d allocations, got %d (%d errors)\n", expected, success, errorCount.Load())
	}

	fmt.Printf("Final Row: onHand=%d allocated=%d version=%d\n", snap.OnHand, snap.Allocated, snap.Version)
	if snap.Allocated == success*(*perOrder) && snap.Allocated <= snap.OnHand {
		fmt.Println("PASS: allocated matches successful orders and never exceeds on-hand")
	} else {
		fmt.Printf("FAIL: allocated %d for %d orders with on-hand %d\n", snap.Allocated, success, snap.OnHand)
	}
}
