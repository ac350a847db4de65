package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/canteen/internal/adapter/storage"
	"github.com/rl1809/canteen/internal/core/domain"
)

var (
	admin = domain.Caller{UserID: "kitchen-1", Admin: true}
	alice = domain.Caller{UserID: "alice"}
	bob   = domain.Caller{UserID: "bob"}
)

// testClock advances one second on every reading so that orders and payments
// created back to back still sort deterministically.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock     *testClock
	store     *storage.MemoryStore
	ledger    *storage.MemoryLedger
	catalog   *CatalogService
	lifecycle *LifecycleManager
	payments  *PaymentService
	dashboard *DashboardService
}

func newFixture(t *testing.T, opts ...LifecycleOption) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	ledger := storage.NewMemoryLedger()
	catalog := NewCatalogService(store, ledger, logger)
	clock := newTestClock(time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC))
	lifecycle := NewLifecycleManager(store, store, ledger, logger, append([]LifecycleOption{WithClock(clock.Now)}, opts...)...)
	dashboard := NewDashboardService(store, catalog, time.UTC)
	dashboard.now = clock.Now

	return &fixture{
		clock:     clock,
		store:     store,
		ledger:    ledger,
		catalog:   catalog,
		lifecycle: lifecycle,
		payments:  NewPaymentService(lifecycle, store, DefaultMinCodeLength, logger),
		dashboard: dashboard,
	}
}

func (f *fixture) addMeal(t *testing.T, id string, price int64, units *int, maxPerPerson int) domain.MenuItem {
	t.Helper()

	meal, err := f.catalog.Create(context.Background(), admin, domain.MenuItem{
		ID:             id,
		Name:           "meal " + id,
		Category:       "Main Course",
		Price:          decimal.NewFromInt(price),
		MaxPerPerson:   maxPerPerson,
		UnitsAvailable: units,
		IsAvailable:    true,
	})
	require.NoError(t, err)
	return meal
}

func (f *fixture) level(t *testing.T, mealID string) domain.StockLevel {
	t.Helper()

	level, err := f.ledger.Level(context.Background(), mealID)
	require.NoError(t, err)
	return level
}

func (f *fixture) place(t *testing.T, caller domain.Caller, lines ...domain.OrderLine) domain.Order {
	t.Helper()

	order, err := f.lifecycle.Place(context.Background(), caller, lines, "")
	require.NoError(t, err)
	return order
}

func (f *fixture) submit(t *testing.T, caller domain.Caller, orderID, code string) domain.PaymentRecord {
	t.Helper()

	record, err := f.payments.Submit(context.Background(), caller, orderID, code, decimal.Zero)
	require.NoError(t, err)
	return record
}

func line(mealID string, quantity int) domain.OrderLine {
	return domain.OrderLine{MealID: mealID, Quantity: quantity}
}
