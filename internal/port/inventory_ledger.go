package port

import (
	"context"
	"errors"

	"github.com/rl1809/canteen/internal/core/domain"
)

// InventoryLedger is the only writer of stock counters. All stock changes are
// expressed as Reserve followed by Commit or Release.
type InventoryLedger interface {
	// Reserve atomically checks availability and free units and holds quantity units.
	// On failure nothing changes.
	Reserve(ctx context.Context, mealID string, quantity int) (domain.ReservationToken, error)

	// Commit turns a held reservation into a permanent decrement. Repeated calls are no-ops.
	Commit(ctx context.Context, token domain.ReservationToken) error

	// Release drops a held reservation without touching units. Repeated calls are no-ops.
	Release(ctx context.Context, token domain.ReservationToken) error

	// Track sets stock and availability for a meal, keeping outstanding reservations.
	Track(ctx context.Context, mealID string, units *int, available bool) error

	// SetAvailable toggles availability of a tracked meal without touching its counters.
	SetAvailable(ctx context.Context, mealID string, available bool) error

	// Forget removes a meal from the ledger.
	Forget(ctx context.Context, mealID string) error

	// Level returns the current stock view of a meal.
	Level(ctx context.Context, mealID string) (domain.StockLevel, error)
}

// IdempotencyGuard claims request keys so retried requests are not applied twice.
type IdempotencyGuard interface {
	// Claim returns false if key was already claimed.
	Claim(ctx context.Context, key string) (bool, error)

	// Release gives a claimed key back so a failed request can be retried with it.
	Release(ctx context.Context, key string) error
}

// ErrUnknownReservation is returned when a token was never issued by the ledger.
var ErrUnknownReservation = errors.New("unknown reservation")
