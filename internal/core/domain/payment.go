package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentOutcome string

const (
	PaymentUnverified PaymentOutcome = "unverified"
	PaymentVerified   PaymentOutcome = "verified"
	PaymentRejected   PaymentOutcome = "rejected"
)

// PaymentRecord is the evidence of an out-of-band mobile-money transfer.
type PaymentRecord struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	TransactionCode string          `json:"transaction_code"`
	AmountClaimed   decimal.Decimal `json:"amount_claimed"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	Outcome         PaymentOutcome  `json:"outcome"`
	VerifiedBy      string          `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Active reports whether the record blocks another submission for its order.
func (p PaymentRecord) Active() bool {
	return p.Outcome != PaymentRejected
}

// PendingPayment pairs an order awaiting review with its submitted payment.
type PendingPayment struct {
	Order   Order         `json:"order"`
	Payment PaymentRecord `json:"payment"`
	// AmountMatches is false when the claimed amount differs from the order total.
	AmountMatches bool `json:"amount_matches"`
}
