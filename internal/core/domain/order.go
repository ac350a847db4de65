package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPlaced           OrderStatus = "placed"
	OrderStatusPaymentSubmitted OrderStatus = "payment_submitted"
	OrderStatusVerified         OrderStatus = "verified"
	OrderStatusAbandoned        OrderStatus = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusVerified || s == OrderStatusAbandoned
}

// OrderLine is one entry of a customer's cart.
type OrderLine struct {
	MealID   string `json:"meal_id"`
	Quantity int    `json:"quantity"`
}

// PricedLine is a cart line with the meal price captured at placement.
type PricedLine struct {
	MealID    string          `json:"meal_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l PricedLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ValidatedOrder is the output of cart validation, ready to be placed.
type ValidatedOrder struct {
	Lines []PricedLine
	Total decimal.Decimal
}

// SumLines computes the order total from its snapshotted lines.
func SumLines(lines []PricedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

type Order struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	Lines        []PricedLine       `json:"lines"`
	Total        decimal.Decimal    `json:"total"`
	Status       OrderStatus        `json:"status"`
	Reservations []ReservationToken `json:"-"`
	PaymentID    string             `json:"payment_id,omitempty"`
	Notes        string             `json:"notes,omitempty"`
	Version      int                `json:"-"` // optimistic locking
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Held returns the tokens the order still holds stock with.
func (o Order) Held() []ReservationToken {
	var held []ReservationToken
	for _, t := range o.Reservations {
		if t.Settle == "" {
			held = append(held, t)
		}
	}
	return held
}

// Holding reports whether the order still has reserved stock.
func (o Order) Holding() bool {
	return len(o.Held()) > 0
}

// Unsettled reports whether a commit or release is still owed to the ledger.
func (o Order) Unsettled() bool {
	for _, t := range o.Reservations {
		if t.Settle != "" {
			return true
		}
	}
	return false
}

// OrderFilter narrows order listings. Zero values match everything.
type OrderFilter struct {
	UserID        string
	Statuses      []OrderStatus
	CreatedFrom   time.Time
	CreatedUntil  time.Time
	UpdatedBefore time.Time
	Unsettled     bool
}

// Match reports whether o satisfies the filter.
func (f OrderFilter) Match(o Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.CreatedFrom.IsZero() && o.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedUntil.IsZero() && !o.CreatedAt.Before(f.CreatedUntil) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !o.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if f.Unsettled && !o.Unsettled() {
		return false
	}
	return true
}
