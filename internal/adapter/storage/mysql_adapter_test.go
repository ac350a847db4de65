package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/canteen/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/canteen"
	}
	dsn, err := NormalizeDSN(dsn)
	if err != nil {
		t.Fatalf("normalize dsn: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := NewMySQLAdapter(db).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := NormalizeDSN("canteen:secret@tcp(db:3306)/canteen?loc=Local&parseTime=false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("normalized dsn does not parse: %v", err)
	}
	if !cfg.ParseTime || cfg.Loc != time.UTC {
		t.Errorf("expected parseTime in UTC, got parseTime=%v loc=%v", cfg.ParseTime, cfg.Loc)
	}
	if cfg.User != "canteen" || cfg.Addr != "db:3306" || cfg.DBName != "canteen" {
		t.Errorf("connection settings changed: %+v", cfg)
	}

	if _, err := NormalizeDSN("canteen@db"); err == nil {
		t.Error("expected an error for a malformed dsn")
	}
}

func TestMySQL_MealRoundTrip(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	// Setup
	db.ExecContext(ctx, "DELETE FROM menu_items WHERE id IN ('test-stew', 'test-chapati')")
	db.ExecContext(ctx, "DELETE FROM stock_commits WHERE meal_id IN ('test-stew', 'test-chapati')")

	chapati := domain.MenuItem{
		ID: "test-chapati", Name: "Chapati", Category: "Sides", Price: decimal.NewFromInt(50),
		MaxPerPerson: 2, IsAvailable: true, CreatedAt: now, UpdatedAt: now,
	}
	stew := domain.MenuItem{
		ID: "test-stew", Name: "Beef Stew with Rice", Category: "Main Course",
		Price: decimal.RequireFromString("350.50"), MaxPerPerson: 1, UnitsAvailable: domain.Units(20),
		IsAvailable: true, Requires: []string{"test-chapati"}, CreatedAt: now, UpdatedAt: now,
	}
	if err := adapter.CreateMeal(ctx, chapati); err != nil {
		t.Fatalf("create chapati: %v", err)
	}
	if err := adapter.CreateMeal(ctx, stew); err != nil {
		t.Fatalf("create stew: %v", err)
	}

	got, err := adapter.GetMeal(ctx, "test-stew")
	if err != nil || got == nil {
		t.Fatalf("get stew: %v", err)
	}
	if !got.Price.Equal(stew.Price) || *got.UnitsAvailable != 20 || len(got.Requires) != 1 {
		t.Errorf("unexpected meal %+v", got)
	}

	got, _ = adapter.GetMeal(ctx, "test-chapati")
	if got.UnitsAvailable != nil {
		t.Errorf("expected unlimited chapati, got %d", *got.UnitsAvailable)
	}

	// Stock commits are applied once per reservation and never go below zero.
	adapter.ApplyStockCommit(ctx, "00000000-0000-0000-0000-00000000000a", "test-stew", 5)
	adapter.ApplyStockCommit(ctx, "00000000-0000-0000-0000-00000000000a", "test-stew", 5)
	got, _ = adapter.GetMeal(ctx, "test-stew")
	if *got.UnitsAvailable != 15 {
		t.Errorf("expected a repeated reservation to apply once, got %d", *got.UnitsAvailable)
	}
	adapter.ApplyStockCommit(ctx, "00000000-0000-0000-0000-00000000000b", "test-stew", 15)
	adapter.ApplyStockCommit(ctx, "00000000-0000-0000-0000-00000000000c", "test-stew", 15)
	adapter.ApplyStockCommit(ctx, "00000000-0000-0000-0000-00000000000d", "test-chapati", 3)

	got, _ = adapter.GetMeal(ctx, "test-stew")
	if *got.UnitsAvailable != 0 {
		t.Errorf("expected 0 units, got %d", *got.UnitsAvailable)
	}
	got, _ = adapter.GetMeal(ctx, "test-chapati")
	if got.UnitsAvailable != nil {
		t.Error("expected chapati to stay unlimited")
	}

	stew.IsAvailable = false
	stew.UnitsAvailable = domain.Units(5)
	if err := adapter.UpdateMeal(ctx, stew); err != nil {
		t.Fatalf("update stew: %v", err)
	}
	available, _ := adapter.ListMeals(ctx, domain.MealFilter{OnlyAvailable: true, Category: "Main Course"})
	for _, m := range available {
		if m.ID == "test-stew" {
			t.Error("unavailable meal listed as available")
		}
	}

	adapter.DeleteMeal(ctx, "test-stew")
	got, err = adapter.GetMeal(ctx, "test-stew")
	if err != nil || got != nil {
		t.Errorf("expected deleted meal to be gone, got %+v, %v", got, err)
	}

	if err := adapter.UpdateMeal(ctx, stew); !errors.Is(err, domain.ErrMealNotFound) {
		t.Errorf("expected ErrMealNotFound, got: %v", err)
	}
}

func TestMySQL_OrderTransitions(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	order := domain.Order{
		ID:     uuid.New().String(),
		UserID: "test-user-" + uuid.New().String()[:8],
		Lines: []domain.PricedLine{
			{MealID: "1", Name: "Beef Stew with Rice", Quantity: 1, UnitPrice: decimal.NewFromInt(350)},
			{MealID: "3", Name: "Chapati", Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
		},
		Total:        decimal.NewFromInt(450),
		Status:       domain.OrderStatusPlaced,
		Reservations: []domain.ReservationToken{{ID: uuid.New().String(), MealID: "1", Quantity: 1}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := adapter.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	got, err := adapter.GetOrder(ctx, order.ID)
	if err != nil || got == nil {
		t.Fatalf("get order: %v", err)
	}
	if len(got.Lines) != 2 || len(got.Reservations) != 1 || !got.Total.Equal(order.Total) {
		t.Errorf("unexpected order %+v", got)
	}

	payment := domain.PaymentRecord{
		ID:              uuid.New().String(),
		OrderID:         order.ID,
		TransactionCode: "ABCDE12345",
		AmountClaimed:   decimal.NewFromInt(450),
		SubmittedAt:     now,
		Outcome:         domain.PaymentUnverified,
	}
	submitted := order
	submitted.Status = domain.OrderStatusPaymentSubmitted
	submitted.PaymentID = payment.ID
	if err := adapter.SaveTransition(ctx, submitted, &payment); err != nil {
		t.Fatalf("submit transition: %v", err)
	}

	// A writer still holding version 0 loses.
	stale := order
	stale.Status = domain.OrderStatusAbandoned
	if err := adapter.SaveTransition(ctx, stale, nil); !errors.Is(err, ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got: %v", err)
	}

	verifiedAt := now.Add(time.Minute)
	payment.Outcome = domain.PaymentVerified
	payment.VerifiedBy = "kitchen-1"
	payment.VerifiedAt = &verifiedAt
	verified := submitted
	verified.Version = 1
	verified.Status = domain.OrderStatusVerified
	verified.Reservations = []domain.ReservationToken{order.Reservations[0]}
	verified.Reservations[0].Settle = domain.ReservationCommitted
	if err := adapter.SaveTransition(ctx, verified, &payment); err != nil {
		t.Fatalf("verify transition: %v", err)
	}

	got, _ = adapter.GetOrder(ctx, order.ID)
	if got.Status != domain.OrderStatusVerified || got.Version != 2 || !got.Unsettled() {
		t.Errorf("expected verified at version 2 owing a commit, got %+v", got)
	}

	p, _ := adapter.GetPayment(ctx, payment.ID)
	if p == nil || p.Outcome != domain.PaymentVerified || p.VerifiedAt == nil || p.VerifiedBy != "kitchen-1" {
		t.Errorf("unexpected payment %+v", p)
	}

	history, _ := adapter.ListPayments(ctx, order.ID)
	if len(history) != 1 {
		t.Errorf("expected one payment, got %d", len(history))
	}

	orders, _ := adapter.ListOrders(ctx, domain.OrderFilter{
		UserID:   order.UserID,
		Statuses: []domain.OrderStatus{domain.OrderStatusVerified, domain.OrderStatusPlaced},
	})
	if len(orders) != 1 || orders[0].ID != order.ID {
		t.Errorf("expected the verified order, got %+v", orders)
	}

	unsettled, _ := adapter.ListOrders(ctx, domain.OrderFilter{UserID: order.UserID, Unsettled: true})
	if len(unsettled) != 1 || unsettled[0].Reservations[0].Settle != domain.ReservationCommitted {
		t.Errorf("expected the order owing a commit, got %+v", unsettled)
	}

	verified.Version = 2
	verified.Reservations = nil
	if err := adapter.SaveTransition(ctx, verified, nil); err != nil {
		t.Fatalf("settle transition: %v", err)
	}
	unsettled, _ = adapter.ListOrders(ctx, domain.OrderFilter{UserID: order.UserID, Unsettled: true})
	if len(unsettled) != 0 {
		t.Errorf("expected no unsettled orders, got %+v", unsettled)
	}
}

func TestMySQL_GetMissing(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	order, err := adapter.GetOrder(ctx, uuid.New().String())
	if err != nil || order != nil {
		t.Errorf("expected nil order without error, got %+v, %v", order, err)
	}
	payment, err := adapter.GetPayment(ctx, uuid.New().String())
	if err != nil || payment != nil {
		t.Errorf("expected nil payment without error, got %+v, %v", payment, err)
	}
}
