package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/adapter/handler"
	"github.com/rl1809/inventory-engine/internal/adapter/metrics"
	"github.com/rl1809/inventory-engine/internal/adapter/publisher"
	"github.com/rl1809/inventory-engine/internal/adapter/reorder"
	"github.com/rl1809/inventory-engine/internal/adapter/storage"
	"github.com/rl1809/inventory-engine/internal/config"
	"github.com/rl1809/inventory-engine/internal/core/service"
	"github.com/rl1809/inventory-engine/internal/port"
	"github.com/rl1809/inventory-engine/migrations"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/local.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	if cfg.MySQL.Migrate {
		if err := migrations.Up(db); err != nil {
			logger.Fatal("failed to migrate mysql", zap.Error(err))
		}
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db, cfg.Engine.AcquireTimeout)
	redisAdapter := storage.NewRedisAdapter(rdb)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewPrometheus(reg)

	var reorderPoints port.ReorderPointProvider = reorder.NewStaticProvider(cfg.Reservations.DefaultReorderPoint, nil)
	if cfg.Reorder.GRPCTarget != "" {
		conn, err := reorder.Dial(cfg.Reorder.GRPCTarget)
		if err != nil {
			logger.Fatal("failed to dial reorder service", zap.Error(err))
		}
		defer conn.Close()
		reorderPoints = reorder.NewGRPCProvider(conn, cfg.Reorder.Timeout, logger)
		logger.Info("using reorder service", zap.String("target", cfg.Reorder.GRPCTarget))
	}
	reorderPoints = reorder.NewCachedProvider(reorderPoints, redisAdapter, cfg.Reorder.CacheTTL, logger)

	var sink port.EventPublisher
	switch cfg.Events.Sink {
	case "redis":
		sink = redisAdapter
	case "kafka":
		producer, err := publisher.NewSyncProducer(cfg.Events.KafkaBrokers)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		kafka := publisher.NewKafkaPublisher(producer, cfg.Events.StockTopic, cfg.Events.OrderTopic, logger)
		defer kafka.Close()
		sink = kafka
	default:
		sink = publisher.NewLogPublisher(logger)
	}
	logger.Info("event sink selected", zap.String("sink", cfg.Events.Sink))

	// Initialize services
	dispatcher := service.NewEventDispatcher(sink, logger, service.DispatcherConfig{
		QueueSize:    cfg.Events.QueueSize,
		MaxAttempts:  cfg.Events.MaxAttempts,
		RetryBackoff: cfg.Events.RetryBackoff,
	}, service.WithMetrics(engineMetrics))
	dispatcher.Start(cfg.Events.Workers)
	logger.Info("started event workers", zap.Int("workers", cfg.Events.Workers))

	adjustPolicy, err := service.ParseAdjustPolicy(cfg.Engine.AdjustPolicy)
	if err != nil {
		logger.Fatal("invalid engine config", zap.Error(err))
	}

	engine := service.NewInventoryEngine(mysqlAdapter, dispatcher, logger, service.EngineConfig{
		OperationTimeout: cfg.Engine.OperationTimeout,
		AdjustPolicy:     adjustPolicy,
	}, service.WithMetrics(engineMetrics))

	ledger := service.NewReservationLedger(mysqlAdapter, reorderPoints, dispatcher, logger, service.LedgerConfig{
		OperationTimeout:    cfg.Engine.OperationTimeout,
		TTL:                 cfg.Reservations.TTL,
		LocationID:          cfg.Reservations.LocationID,
		DefaultReorderPoint: cfg.Reservations.DefaultReorderPoint,
	}, service.WithMetrics(engineMetrics))

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		ledger.RunSweeper(ctx, cfg.Reservations.SweepInterval)
	}()

	// Seed opening stock
	if cfg.Engine.SeedFile != "" {
		items, err := config.LoadSeed(cfg.Engine.SeedFile)
		if err != nil {
			logger.Fatal("failed to load seed file", zap.Error(err))
		}
		seeded, err := seedStock(ctx, mysqlAdapter, engine, items, logger)
		if err != nil {
			logger.Fatal("failed to seed stock", zap.Int("seeded", seeded), zap.Error(err))
		}
		logger.Info("seeded opening stock", zap.Int("seeded", seeded), zap.Int("items", len(items)))
	}

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(map[string]handler.Pinger{
		"mysql": mysqlAdapter,
		"redis": redisAdapter,
	}, 2*time.Second, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	cancel()
	<-sweeperDone
	logger.Info("reservation sweeper stopped")

	// Drains queued events before the sink goes away
	dispatcher.Close()
	logger.Info("event workers stopped")

	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
