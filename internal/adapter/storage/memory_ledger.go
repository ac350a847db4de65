package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

type stockEntry struct {
	mu        sync.Mutex
	units     int
	unlimited bool
	reserved  int
	available bool
	removed   bool
}

type tokenEntry struct {
	token domain.ReservationToken
	state domain.ReservationState
	stock *stockEntry
}

// MemoryLedger keeps stock counters in process. Each meal has its own lock,
// so reservations for different meals never contend.
type MemoryLedger struct {
	mu    sync.RWMutex
	meals map[string]*stockEntry

	// tokensMu is always acquired after a stockEntry lock, never before.
	tokensMu sync.Mutex
	tokens   map[string]*tokenEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		meals:  make(map[string]*stockEntry),
		tokens: make(map[string]*tokenEntry),
	}
}

func (l *MemoryLedger) entry(mealID string) *stockEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meals[mealID]
}

func (l *MemoryLedger) Reserve(ctx context.Context, mealID string, quantity int) (domain.ReservationToken, error) {
	if quantity <= 0 {
		return domain.ReservationToken{}, domain.ErrInvalidQuantity
	}

	e := l.entry(mealID)
	if e == nil {
		return domain.ReservationToken{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return domain.ReservationToken{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}
	if !e.available {
		return domain.ReservationToken{}, fmt.Errorf("%w: %s", domain.ErrMealUnavailable, mealID)
	}
	if !e.unlimited && e.units-e.reserved < quantity {
		return domain.ReservationToken{}, fmt.Errorf("%w: %s has %d free, requested %d",
			domain.ErrOutOfStock, mealID, e.units-e.reserved, quantity)
	}

	e.reserved += quantity
	token := domain.ReservationToken{
		ID:       uuid.New().String(),
		MealID:   mealID,
		Quantity: quantity,
	}

	l.tokensMu.Lock()
	l.tokens[token.ID] = &tokenEntry{token: token, state: domain.ReservationHeld, stock: e}
	l.tokensMu.Unlock()

	return token, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, token domain.ReservationToken) error {
	return l.settle(token, domain.ReservationCommitted)
}

func (l *MemoryLedger) Release(ctx context.Context, token domain.ReservationToken) error {
	return l.settle(token, domain.ReservationReleased)
}

// settle moves a held token to its final state. Tokens that are already
// settled are left untouched.
func (l *MemoryLedger) settle(token domain.ReservationToken, to domain.ReservationState) error {
	l.tokensMu.Lock()
	te, ok := l.tokens[token.ID]
	l.tokensMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", port.ErrUnknownReservation, token.ID)
	}

	e := te.stock
	e.mu.Lock()
	defer e.mu.Unlock()

	l.tokensMu.Lock()
	defer l.tokensMu.Unlock()

	if te.state != domain.ReservationHeld {
		return nil
	}
	if !e.removed {
		e.reserved -= te.token.Quantity
		if to == domain.ReservationCommitted && !e.unlimited {
			e.units -= te.token.Quantity
		}
	}
	te.state = to
	return nil
}

func (l *MemoryLedger) Track(ctx context.Context, mealID string, units *int, available bool) error {
	l.mu.Lock()
	e, ok := l.meals[mealID]
	if !ok || e.removed {
		e = &stockEntry{}
		l.meals[mealID] = e
	}
	l.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if units != nil && *units < e.reserved {
		return fmt.Errorf("%w: %s has %d units reserved, cannot set stock to %d",
			domain.ErrInvalidMeal, mealID, e.reserved, *units)
	}
	e.unlimited = units == nil
	if units != nil {
		e.units = *units
	}
	e.available = available
	return nil
}

func (l *MemoryLedger) SetAvailable(ctx context.Context, mealID string, available bool) error {
	e := l.entry(mealID)
	if e == nil {
		return fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}
	e.available = available
	return nil
}

func (l *MemoryLedger) Forget(ctx context.Context, mealID string) error {
	l.mu.Lock()
	e, ok := l.meals[mealID]
	delete(l.meals, mealID)
	l.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	return nil
}

func (l *MemoryLedger) Level(ctx context.Context, mealID string) (domain.StockLevel, error) {
	e := l.entry(mealID)
	if e == nil {
		return domain.StockLevel{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	level := domain.StockLevel{
		MealID:    mealID,
		Reserved:  e.reserved,
		Available: e.available,
	}
	if !e.unlimited {
		level.Units = domain.Units(e.units)
	}
	return level, nil
}

// MemoryIdempotency is the in-process counterpart of RedisIdempotency.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]struct{})}
}

func (m *MemoryIdempotency) Claim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *MemoryIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	return nil
}
