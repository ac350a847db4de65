package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// MemoryStore implements the catalog and order repositories in process.
// Values are copied in and out so callers never share slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	meals    map[string]domain.MenuItem
	orders   map[string]domain.Order
	payments map[string]domain.PaymentRecord
	commits  map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meals:    make(map[string]domain.MenuItem),
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.PaymentRecord),
		commits:  make(map[string]struct{}),
	}
}

func (s *MemoryStore) CreateMeal(ctx context.Context, meal domain.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meals[meal.ID]; ok {
		return fmt.Errorf("insert meal: %s already exists", meal.ID)
	}
	s.meals[meal.ID] = cloneMeal(meal)
	return nil
}

func (s *MemoryStore) UpdateMeal(ctx context.Context, meal domain.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meals[meal.ID]; !ok {
		return fmt.Errorf("update meal: %w", domain.ErrMealNotFound)
	}
	s.meals[meal.ID] = cloneMeal(meal)
	return nil
}

func (s *MemoryStore) DeleteMeal(ctx context.Context, mealID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.meals, mealID)
	return nil
}

func (s *MemoryStore) GetMeal(ctx context.Context, mealID string) (*domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meal, ok := s.meals[mealID]
	if !ok {
		return nil, nil
	}
	meal = cloneMeal(meal)
	return &meal, nil
}

func (s *MemoryStore) ListMeals(ctx context.Context, filter domain.MealFilter) ([]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meals := make([]domain.MenuItem, 0, len(s.meals))
	for _, m := range s.meals {
		if filter.OnlyAvailable && !m.IsAvailable {
			continue
		}
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		meals = append(meals, cloneMeal(m))
	}
	sort.Slice(meals, func(i, j int) bool {
		if meals[i].Category != meals[j].Category {
			return meals[i].Category < meals[j].Category
		}
		return meals[i].Name < meals[j].Name
	})
	return meals, nil
}

// ApplyStockCommit mirrors a committed reservation onto the stored meal once.
func (s *MemoryStore) ApplyStockCommit(ctx context.Context, reservationID, mealID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commits[reservationID]; ok {
		return nil
	}
	s.commits[reservationID] = struct{}{}

	meal, ok := s.meals[mealID]
	if !ok || meal.UnitsAvailable == nil {
		return nil
	}
	left := max(*meal.UnitsAvailable-quantity, 0)
	meal.UnitsAvailable = &left
	s.meals[mealID] = meal
	return nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("insert order: %s already exists", order.ID)
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	order = cloneOrder(order)
	return &order, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := []domain.Order{}
	for _, o := range s.orders {
		if filter.Match(o) {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) SaveTransition(ctx context.Context, order domain.Order, payment *domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("update order: %w", domain.ErrOrderNotFound)
	}
	if current.Version != order.Version {
		return port.ErrOptimisticLock
	}

	order.Version++
	s.orders[order.ID] = cloneOrder(order)
	if payment != nil {
		s.payments[payment.ID] = *payment
	}
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) ListPayments(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := []domain.PaymentRecord{}
	for _, p := range s.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].SubmittedAt.Before(payments[j].SubmittedAt)
	})
	return payments, nil
}

func cloneMeal(m domain.MenuItem) domain.MenuItem {
	if m.UnitsAvailable != nil {
		m.UnitsAvailable = domain.Units(*m.UnitsAvailable)
	}
	if m.UnitsLeft != nil {
		m.UnitsLeft = domain.Units(*m.UnitsLeft)
	}
	m.Requires = append([]string(nil), m.Requires...)
	return m
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.PricedLine(nil), o.Lines...)
	o.Reservations = append([]domain.ReservationToken(nil), o.Reservations...)
	return o
}
