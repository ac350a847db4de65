package domain

// ReservationToken identifies units tentatively held for an order line.
type ReservationToken struct {
	ID       string `json:"id"`
	MealID   string `json:"meal_id"`
	Quantity int    `json:"quantity"`

	// Settle is the outcome still owed to the ledger once the order has moved
	// past the token. Empty while the order holds it.
	Settle ReservationState `json:"settle,omitempty"`
}

// ReservationState is the lifecycle of a single token inside the ledger.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// StockLevel is the ledger's view of one meal. Units is nil for unlimited stock.
type StockLevel struct {
	MealID    string `json:"meal_id"`
	Units     *int   `json:"units"`
	Reserved  int    `json:"reserved"`
	Available bool   `json:"available"`
}

// Unlimited reports whether the meal has no stock cap.
func (s StockLevel) Unlimited() bool {
	return s.Units == nil
}

// Free returns units that can still be reserved. It is meaningless for
// unlimited meals and returns -1 for them.
func (s StockLevel) Free() int {
	if s.Units == nil {
		return -1
	}
	return *s.Units - s.Reserved
}

// Units is a helper for building finite stock values.
func Units(n int) *int {
	return &n
}
