package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/adapter/handler"
	"github.com/rl1809/canteen/internal/adapter/storage"
	"github.com/rl1809/canteen/internal/config"
	"github.com/rl1809/canteen/internal/core/service"
	"github.com/rl1809/canteen/internal/logger"
	"github.com/rl1809/canteen/internal/port"
)

type backends struct {
	catalog port.CatalogRepository
	orders  port.OrderRepository
	sink    port.StockSink
	ledger  port.InventoryLedger
	guard   port.IdempotencyGuard
	closers []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackends(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to open storage", zap.Error(err))
	}

	// Services
	journal := service.NewStockJournal(cfg.JournalQueueSize, zl)
	catalog := service.NewCatalogService(b.catalog, b.ledger, zl)
	lifecycle := service.NewLifecycleManager(b.catalog, b.orders, b.ledger, zl,
		service.WithIdempotency(b.guard),
		service.WithJournal(journal))
	payments := service.NewPaymentService(lifecycle, b.orders, cfg.MinCodeLength, zl)
	dashboard := service.NewDashboardService(b.orders, catalog, cfg.Location())

	if cfg.SeedDemoMenu {
		if err := catalog.Seed(ctx, service.DemoMenu()); err != nil {
			zl.Fatal("failed to seed demo menu", zap.Error(err))
		}
	}
	tracked, err := catalog.Sync(ctx)
	if err != nil {
		zl.Fatal("failed to sync stock ledger", zap.Error(err))
	}
	zl.Info("stock ledger synced", zap.Int("tracked", tracked))

	// Journal workers
	var workers sync.WaitGroup
	for i := 0; i < cfg.JournalWorkers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			journal.Drain(id, b.sink)
		}(i)
	}
	zl.Info("started journal workers", zap.Int("count", cfg.JournalWorkers))

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeper := service.NewSweeper(lifecycle, b.orders, cfg.OrderIdleTimeout, cfg.SweepInterval, zl)
	var sweeping sync.WaitGroup
	sweeping.Add(1)
	go func() {
		defer sweeping.Done()
		sweeper.Run(sweepCtx)
	}()

	svc := handler.Services{
		Catalog:   catalog,
		Lifecycle: lifecycle,
		Payments:  payments,
		Dashboard: dashboard,
	}

	// gRPC server
	grpcServer, healthServer := handler.NewGRPCServer(handler.NewGRPCHandler(svc, zl))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		zl.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	go func() {
		zl.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			zl.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(svc, zl).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zl.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			zl.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	zl.Info("HTTP server stopped")

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	zl.Info("gRPC server stopped")

	stopSweeper()
	sweeping.Wait()

	// No request can record stock any more, so the queue can be closed.
	journal.Close()
	workers.Wait()
	zl.Info("journal workers stopped")

	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil {
			zl.Warn("close failed", zap.Error(err))
		}
	}
	zl.Info("connections closed")
}

// openBackends picks MySQL and Redis when configured and the in-memory
// implementations otherwise.
func openBackends(ctx context.Context, cfg config.Config, zl *zap.Logger) (*backends, error) {
	b := &backends{}

	if cfg.MySQLDSN != "" {
		dsn, err := storage.NormalizeDSN(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQLMaxOpenConns / 2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			return nil, err
		}
		zl.Info("connected to mysql")

		b.catalog, b.orders, b.sink = adapter, adapter, adapter
		b.closers = append(b.closers, db.Close)
	} else {
		store := storage.NewMemoryStore()
		b.catalog, b.orders, b.sink = store, store, store
		zl.Warn("MYSQL_DSN not set, orders are kept in memory")
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		zl.Info("connected to redis")

		b.ledger = storage.NewRedisLedger(rdb)
		b.guard = storage.NewRedisIdempotency(rdb)
		b.closers = append([]func() error{rdb.Close}, b.closers...)
	} else {
		b.ledger = storage.NewMemoryLedger()
		b.guard = storage.NewMemoryIdempotency()
		zl.Warn("REDIS_ADDR not set, stock ledger is kept in memory")
	}

	return b, nil
}
