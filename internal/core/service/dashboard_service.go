package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// DashboardService derives daily figures from the order and catalog stores on
// every call. Nothing is cached.
type DashboardService struct {
	orders  port.OrderRepository
	catalog *CatalogService
	loc     *time.Location
	now     func() time.Time
}

func NewDashboardService(orders port.OrderRepository, catalog *CatalogService, loc *time.Location) *DashboardService {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardService{
		orders:  orders,
		catalog: catalog,
		loc:     loc,
		now:     time.Now,
	}
}

// Summary reports today's orders, verified revenue, pending payments and stock alerts.
func (s *DashboardService) Summary(ctx context.Context, caller domain.Caller) (domain.DashboardSummary, error) {
	if !caller.Admin {
		return domain.DashboardSummary{}, domain.ErrForbidden
	}

	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	orders, err := s.orders.ListOrders(ctx, domain.OrderFilter{
		CreatedFrom:  start,
		CreatedUntil: start.AddDate(0, 0, 1),
	})
	if err != nil {
		return domain.DashboardSummary{}, fmt.Errorf("list today's orders: %w", err)
	}

	summary := domain.DashboardSummary{
		Date:          start.Format(time.DateOnly),
		OrderCount:    len(orders),
		Revenue:       decimal.Zero,
		LowStockMeals: []string{},
	}
	for _, o := range orders {
		switch o.Status {
		case domain.OrderStatusVerified:
			summary.Revenue = summary.Revenue.Add(o.Total)
		case domain.OrderStatusPaymentSubmitted:
			summary.PendingPayments++
		}
	}

	meals, err := s.catalog.List(ctx, domain.MealFilter{})
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	for _, m := range meals {
		if m.IsAvailable {
			summary.ActiveMeals++
		}
		if m.UnitsLeft != nil && *m.UnitsLeft < domain.LowStockThreshold {
			summary.LowStockMeals = append(summary.LowStockMeals, m.Name)
		}
	}
	sort.Strings(summary.LowStockMeals)

	return summary, nil
}

// CustomerStats summarises the caller's own orders across all days.
func (s *DashboardService) CustomerStats(ctx context.Context, caller domain.Caller) (domain.CustomerStats, error) {
	if caller.UserID == "" {
		return domain.CustomerStats{}, domain.ErrUnauthenticated
	}

	orders, err := s.orders.ListOrders(ctx, domain.OrderFilter{UserID: caller.UserID})
	if err != nil {
		return domain.CustomerStats{}, fmt.Errorf("list orders of %s: %w", caller.UserID, err)
	}

	stats := domain.CustomerStats{TotalOrders: len(orders), TotalSpent: decimal.Zero}
	for _, o := range orders {
		switch o.Status {
		case domain.OrderStatusVerified:
			stats.TotalSpent = stats.TotalSpent.Add(o.Total)
		case domain.OrderStatusPlaced, domain.OrderStatusPaymentSubmitted:
			stats.PendingOrders++
		}
	}
	return stats, nil
}
