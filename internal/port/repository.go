package port

import (
	"context"
	"errors"

	"github.com/rl1809/canteen/internal/core/domain"
)

// ErrOptimisticLock is returned when a versioned write loses a race.
var ErrOptimisticLock = errors.New("optimistic lock conflict")

type CatalogRepository interface {
	CreateMeal(ctx context.Context, meal domain.MenuItem) error

	UpdateMeal(ctx context.Context, meal domain.MenuItem) error

	DeleteMeal(ctx context.Context, mealID string) error

	// GetMeal returns nil, nil when the meal does not exist
	GetMeal(ctx context.Context, mealID string) (*domain.MenuItem, error)

	ListMeals(ctx context.Context, filter domain.MealFilter) ([]domain.MenuItem, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns nil, nil when the order does not exist
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)

	// SaveTransition writes order if its stored version equals order.Version and
	// bumps the version. A non-nil payment is upserted in the same unit of work.
	// Returns ErrOptimisticLock on version mismatch.
	SaveTransition(ctx context.Context, order domain.Order, payment *domain.PaymentRecord) error

	// GetPayment returns nil, nil when the payment does not exist
	GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)

	ListPayments(ctx context.Context, orderID string) ([]domain.PaymentRecord, error)
}

// StockSink persists committed stock decrements to durable storage.
// Each reservation is applied at most once.
type StockSink interface {
	ApplyStockCommit(ctx context.Context, reservationID, mealID string, quantity int) error
}
