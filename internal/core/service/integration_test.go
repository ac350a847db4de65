package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/canteen/internal/adapter/storage"
	"github.com/rl1809/canteen/internal/core/domain"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	db      *storage.MySQLAdapter
	ledger  *storage.RedisLedger
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/canteen"
	}
	mysqlDSN, err := storage.NormalizeDSN(mysqlDSN)
	if err != nil {
		t.Fatalf("normalize dsn: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return &testEnv{
		redis:  rdb,
		mysql:  db,
		db:     adapter,
		ledger: storage.NewRedisLedger(rdb),
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

// resetMeal removes every trace of mealID so the test starts from a fresh row.
func (e *testEnv) resetMeal(ctx context.Context, mealID string) {
	e.redis.Del(ctx, "meal:"+mealID)
	e.mysql.ExecContext(ctx, `DELETE FROM menu_items WHERE id = ?`, mealID)
}

func TestIntegration_FullCanteenFlow(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	mealID := "integration-stew"
	initialStock := 10
	env.resetMeal(ctx, mealID)

	catalog := NewCatalogService(env.db, env.ledger, logger)
	journal := NewStockJournal(100, logger)
	lifecycle := NewLifecycleManager(env.db, env.db, env.ledger, logger,
		WithIdempotency(storage.NewRedisIdempotency(env.redis)),
		WithJournal(journal))
	payments := NewPaymentService(lifecycle, env.db, DefaultMinCodeLength, logger)

	_, err := catalog.Create(ctx, admin, domain.MenuItem{
		ID:             mealID,
		Name:           "Integration Stew",
		Category:       "Main Course",
		Price:          decimal.NewFromInt(350),
		MaxPerPerson:   1,
		UnitsAvailable: domain.Units(initialStock),
		IsAvailable:    true,
	})
	if err != nil {
		t.Fatalf("create meal: %v", err)
	}

	// Start workers
	var wg sync.WaitGroup
	workerCount := 3
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			journal.Drain(id, env.db)
		}(i)
	}

	// Execute checkouts
	var placed atomic.Int32
	var soldOut atomic.Int32
	var orderIDs sync.Map
	var checkoutWg sync.WaitGroup
	totalRequests := 20

	for i := 0; i < totalRequests; i++ {
		checkoutWg.Add(1)
		go func(userID int) {
			defer checkoutWg.Done()
			caller := domain.Caller{UserID: fmt.Sprintf("it-user-%d", userID)}
			order, err := lifecycle.Place(ctx, caller, []domain.OrderLine{{MealID: mealID, Quantity: 1}}, uuid.NewString())
			switch {
			case err == nil:
				placed.Add(1)
				orderIDs.Store(order.ID, caller)
			case errors.Is(err, domain.ErrOutOfStock):
				soldOut.Add(1)
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}(i)
	}
	checkoutWg.Wait()

	if placed.Load() != int32(initialStock) {
		t.Errorf("expected %d placed orders, got %d", initialStock, placed.Load())
	}
	if soldOut.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d sold out, got %d", totalRequests-initialStock, soldOut.Load())
	}

	// Pay for and verify every order
	n := 0
	orderIDs.Range(func(key, value any) bool {
		n++
		record, err := payments.Submit(ctx, value.(domain.Caller), key.(string), fmt.Sprintf("IT%08d", n), decimal.Zero)
		if err != nil {
			t.Errorf("submit payment: %v", err)
			return true
		}
		if _, err := payments.Decide(ctx, admin, record.ID, true, ""); err != nil {
			t.Errorf("verify payment: %v", err)
		}
		return true
	})

	// Close journal and wait for workers
	journal.Close()
	wg.Wait()

	// Verify ledger
	level, err := env.ledger.Level(ctx, mealID)
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	if *level.Units != 0 || level.Reserved != 0 {
		t.Errorf("expected ledger drained, got %+v", level)
	}

	// Verify MySQL stock
	var mysqlStock int
	env.mysql.QueryRowContext(ctx, `SELECT units_available FROM menu_items WHERE id = ?`, mealID).Scan(&mysqlStock)
	if mysqlStock != 0 {
		t.Errorf("expected MySQL stock 0, got %d", mysqlStock)
	}

	// Verify MySQL orders
	var verified int
	env.mysql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id LIKE 'it-user-%' AND status = ?`,
		domain.OrderStatusVerified).Scan(&verified)
	if verified < initialStock {
		t.Errorf("expected at least %d verified orders in MySQL, got %d", initialStock, verified)
	}

	// Cleanup
	env.mysql.ExecContext(ctx, `DELETE FROM payments WHERE order_id IN (SELECT id FROM orders WHERE user_id LIKE 'it-user-%')`)
	env.mysql.ExecContext(ctx, `DELETE FROM orders WHERE user_id LIKE 'it-user-%'`)
	env.resetMeal(ctx, mealID)
}

func TestIntegration_AbandonReleasesStock(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	mealID := "integration-curry"
	env.resetMeal(ctx, mealID)

	catalog := NewCatalogService(env.db, env.ledger, logger)
	lifecycle := NewLifecycleManager(env.db, env.db, env.ledger, logger)

	_, err := catalog.Create(ctx, admin, domain.MenuItem{
		ID: mealID, Name: "Integration Curry", Category: "Main Course",
		Price: decimal.NewFromInt(200), MaxPerPerson: 2, UnitsAvailable: domain.Units(2), IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("create meal: %v", err)
	}

	caller := domain.Caller{UserID: "it-abandon-" + uuid.NewString()[:8]}
	order, err := lifecycle.Place(ctx, caller, []domain.OrderLine{{MealID: mealID, Quantity: 2}}, "")
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if _, err := lifecycle.Place(ctx, caller, []domain.OrderLine{{MealID: mealID, Quantity: 1}}, ""); !errors.Is(err, domain.ErrOutOfStock) {
		t.Errorf("expected ErrOutOfStock, got: %v", err)
	}

	if _, err := lifecycle.Abandon(ctx, caller, order.ID, "changed my mind"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	level, _ := env.ledger.Level(ctx, mealID)
	if level.Reserved != 0 || *level.Units != 2 {
		t.Errorf("expected all stock back, got %+v", level)
	}

	// A repeated abandon is rejected and leaves stock alone
	if _, err := lifecycle.Abandon(ctx, caller, order.ID, "again"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got: %v", err)
	}

	// Cleanup
	env.mysql.ExecContext(ctx, `DELETE FROM orders WHERE user_id = ?`, caller.UserID)
	env.resetMeal(ctx, mealID)
}

func TestIntegration_IdempotencyPreventsDoubleOrder(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	mealID := "integration-chapati"
	key := "same-key-" + uuid.NewString()
	env.resetMeal(ctx, mealID)

	catalog := NewCatalogService(env.db, env.ledger, logger)
	lifecycle := NewLifecycleManager(env.db, env.db, env.ledger, logger,
		WithIdempotency(storage.NewRedisIdempotency(env.redis)))

	_, err := catalog.Create(ctx, admin, domain.MenuItem{
		ID: mealID, Name: "Integration Chapati", Category: "Sides",
		Price: decimal.NewFromInt(50), MaxPerPerson: 2, UnitsAvailable: domain.Units(10), IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("create meal: %v", err)
	}

	caller := domain.Caller{UserID: "it-idem-" + uuid.NewString()[:8]}
	cart := []domain.OrderLine{{MealID: mealID, Quantity: 1}}

	// First call
	if _, err := lifecycle.Place(ctx, caller, cart, key); err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	// Second call with the same key
	if _, err := lifecycle.Place(ctx, caller, cart, key); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	// Verify only one unit reserved
	level, _ := env.ledger.Level(ctx, mealID)
	if level.Reserved != 1 {
		t.Errorf("expected 1 reserved unit, got %d", level.Reserved)
	}

	// Cleanup
	env.mysql.ExecContext(ctx, `DELETE FROM orders WHERE user_id = ?`, caller.UserID)
	env.resetMeal(ctx, mealID)
}
