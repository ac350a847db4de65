package domain

import "github.com/shopspring/decimal"

// DashboardSummary is the administrator's view of the current day.
type DashboardSummary struct {
	Date            string          `json:"date"`
	OrderCount      int             `json:"order_count"`
	Revenue         decimal.Decimal `json:"revenue"`
	PendingPayments int             `json:"pending_payments"`
	ActiveMeals     int             `json:"active_meals"`
	LowStockMeals   []string        `json:"low_stock_meals"`
}

// CustomerStats summarises one user's order history.
type CustomerStats struct {
	TotalOrders   int             `json:"total_orders"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	PendingOrders int             `json:"pending_orders"`
}
