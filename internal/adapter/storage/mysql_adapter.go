package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// ErrOptimisticLock is kept as an alias so callers of this package can match it directly.
var ErrOptimisticLock = port.ErrOptimisticLock

//go:embed schema.sql
var schema string

// NormalizeDSN forces the driver options the adapter relies on: DATETIME
// columns scan into time.Time and are read and written in UTC.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateMeal(ctx context.Context, meal domain.MenuItem) error {
	requires, err := json.Marshal(nonNil(meal.Requires))
	if err != nil {
		return fmt.Errorf("encode requires: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO menu_items (id, name, description, category, price, max_per_person,
			units_available, is_available, requires, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meal.ID, meal.Name, meal.Description, meal.Category, meal.Price, meal.MaxPerPerson,
		nullUnits(meal.UnitsAvailable), meal.IsAvailable, requires, meal.CreatedAt, meal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert meal: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateMeal(ctx context.Context, meal domain.MenuItem) error {
	requires, err := json.Marshal(nonNil(meal.Requires))
	if err != nil {
		return fmt.Errorf("encode requires: %w", err)
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE menu_items
		SET name = ?, description = ?, category = ?, price = ?, max_per_person = ?,
			units_available = ?, is_available = ?, requires = ?, updated_at = ?
		WHERE id = ?`,
		meal.Name, meal.Description, meal.Category, meal.Price, meal.MaxPerPerson,
		nullUnits(meal.UnitsAvailable), meal.IsAvailable, requires, meal.UpdatedAt, meal.ID,
	)
	if err != nil {
		return fmt.Errorf("update meal: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		existing, err := m.GetMeal(ctx, meal.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("update meal: %w", domain.ErrMealNotFound)
		}
	}
	return nil
}

func (m *MySQLAdapter) DeleteMeal(ctx context.Context, mealID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM menu_items WHERE id = ?`, mealID); err != nil {
		return fmt.Errorf("delete meal: %w", err)
	}
	return nil
}

const mealColumns = `id, name, description, category, price, max_per_person,
	units_available, is_available, requires, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeal(row rowScanner) (domain.MenuItem, error) {
	var (
		meal     domain.MenuItem
		units    sql.NullInt64
		requires []byte
	)
	err := row.Scan(&meal.ID, &meal.Name, &meal.Description, &meal.Category, &meal.Price,
		&meal.MaxPerPerson, &units, &meal.IsAvailable, &requires, &meal.CreatedAt, &meal.UpdatedAt)
	if err != nil {
		return meal, err
	}
	if units.Valid {
		meal.UnitsAvailable = domain.Units(int(units.Int64))
	}
	if len(requires) > 0 {
		if err := json.Unmarshal(requires, &meal.Requires); err != nil {
			return meal, fmt.Errorf("decode requires: %w", err)
		}
	}
	return meal, nil
}

func (m *MySQLAdapter) GetMeal(ctx context.Context, mealID string) (*domain.MenuItem, error) {
	meal, err := scanMeal(m.db.QueryRowContext(ctx,
		`SELECT `+mealColumns+` FROM menu_items WHERE id = ?`, mealID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query meal: %w", err)
	}
	return &meal, nil
}

func (m *MySQLAdapter) ListMeals(ctx context.Context, filter domain.MealFilter) ([]domain.MenuItem, error) {
	query := `SELECT ` + mealColumns + ` FROM menu_items WHERE 1 = 1`
	var args []any
	if filter.OnlyAvailable {
		query += ` AND is_available = TRUE`
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY category, name`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meals: %w", err)
	}
	defer rows.Close()

	meals := []domain.MenuItem{}
	for rows.Next() {
		meal, err := scanMeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meal: %w", err)
		}
		meals = append(meals, meal)
	}
	return meals, rows.Err()
}

// ApplyStockCommit persists a committed reservation once. Repeats of the same
// reservation are ignored and unlimited meals are untouched.
func (m *MySQLAdapter) ApplyStockCommit(ctx context.Context, reservationID, mealID string, quantity int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stock commit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO stock_commits (reservation_id, meal_id, quantity, applied_at)
		VALUES (?, ?, ?, NOW(6))`,
		reservationID, mealID, quantity,
	)
	if err != nil {
		return fmt.Errorf("record stock commit: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("record stock commit: %w", err)
	} else if n == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE menu_items
		SET units_available = GREATEST(units_available - ?, 0), updated_at = NOW(6)
		WHERE id = ? AND units_available IS NOT NULL`,
		quantity, mealID,
	)
	if err != nil {
		return fmt.Errorf("apply stock commit: %w", err)
	}
	return tx.Commit()
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	lines, reservations, err := encodeOrder(order)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total, order_lines, reservations, payment_id,
			notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.Status, order.Total, lines, reservations, order.PaymentID,
		order.Notes, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

const orderColumns = `id, user_id, status, total, order_lines, reservations, payment_id,
	notes, version, created_at, updated_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order        domain.Order
		lines        []byte
		reservations []byte
	)
	err := row.Scan(&order.ID, &order.UserID, &order.Status, &order.Total, &lines, &reservations,
		&order.PaymentID, &order.Notes, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return order, err
	}
	if err := json.Unmarshal(lines, &order.Lines); err != nil {
		return order, fmt.Errorf("decode lines: %w", err)
	}
	if err := json.Unmarshal(reservations, &order.Reservations); err != nil {
		return order, fmt.Errorf("decode reservations: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &order, nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1 = 1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(`, ?`, len(filter.Statuses)-1) + `)`
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if !filter.CreatedFrom.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedFrom)
	}
	if !filter.CreatedUntil.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.CreatedUntil)
	}
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, filter.UpdatedBefore)
	}
	if filter.Unsettled {
		query += ` AND JSON_CONTAINS_PATH(reservations, 'one', '$[*].settle')`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (m *MySQLAdapter) SaveTransition(ctx context.Context, order domain.Order, payment *domain.PaymentRecord) error {
	_, reservations, err := encodeOrder(order)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, reservations = ?, payment_id = ?, notes = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		order.Status, reservations, order.PaymentID, order.Notes, order.UpdatedAt,
		order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	if payment != nil {
		var verifiedAt sql.NullTime
		if payment.VerifiedAt != nil {
			verifiedAt = sql.NullTime{Time: *payment.VerifiedAt, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, transaction_code, amount_claimed, submitted_at,
				outcome, verified_by, verified_at, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE outcome = VALUES(outcome), verified_by = VALUES(verified_by),
				verified_at = VALUES(verified_at), notes = VALUES(notes)`,
			payment.ID, payment.OrderID, payment.TransactionCode, payment.AmountClaimed,
			payment.SubmittedAt, payment.Outcome, payment.VerifiedBy, verifiedAt, payment.Notes,
		)
		if err != nil {
			return fmt.Errorf("upsert payment: %w", err)
		}
	}

	return tx.Commit()
}

const paymentColumns = `id, order_id, transaction_code, amount_claimed, submitted_at,
	outcome, verified_by, verified_at, notes`

func scanPayment(row rowScanner) (domain.PaymentRecord, error) {
	var (
		p          domain.PaymentRecord
		verifiedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.TransactionCode, &p.AmountClaimed, &p.SubmittedAt,
		&p.Outcome, &p.VerifiedBy, &verifiedAt, &p.Notes)
	if err != nil {
		return p, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		p.VerifiedAt = &t
	}
	return p, nil
}

func (m *MySQLAdapter) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	p, err := scanPayment(m.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListPayments(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = ? ORDER BY submitted_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	payments := []domain.PaymentRecord{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func encodeOrder(order domain.Order) (lines, reservations []byte, err error) {
	lines, err = json.Marshal(nonNil(order.Lines))
	if err != nil {
		return nil, nil, fmt.Errorf("encode lines: %w", err)
	}
	reservations, err = json.Marshal(nonNil(order.Reservations))
	if err != nil {
		return nil, nil, fmt.Errorf("encode reservations: %w", err)
	}
	return lines, reservations, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullUnits(units *int) sql.NullInt64 {
	if units == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*units), Valid: true}
}
