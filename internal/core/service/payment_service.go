package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// DefaultMinCodeLength matches the length of mobile-money confirmation codes.
const DefaultMinCodeLength = 8

// PaymentService records transaction codes against orders and routes the
// administrator's decision to the lifecycle. Verification is a human
// attestation; codes are never checked against the provider.
type PaymentService struct {
	lifecycle     *LifecycleManager
	orders        port.OrderRepository
	minCodeLength int
	logger        *zap.Logger
}

func NewPaymentService(lifecycle *LifecycleManager, orders port.OrderRepository, minCodeLength int, logger *zap.Logger) *PaymentService {
	if minCodeLength <= 0 {
		minCodeLength = DefaultMinCodeLength
	}
	return &PaymentService{
		lifecycle:     lifecycle,
		orders:        orders,
		minCodeLength: minCodeLength,
		logger:        logger,
	}
}

// NormalizeCode trims and upper-cases a transaction code and checks its shape.
func (s *PaymentService) NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < s.minCodeLength {
		return "", fmt.Errorf("%w: must be at least %d characters", domain.ErrInvalidCode, s.minCodeLength)
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return "", fmt.Errorf("%w: only letters and digits are allowed", domain.ErrInvalidCode)
		}
	}
	return code, nil
}

// Submit attaches a transaction code to an order. A zero amount claims the order total.
func (s *PaymentService) Submit(ctx context.Context, caller domain.Caller, orderID, code string, amount decimal.Decimal) (domain.PaymentRecord, error) {
	if caller.UserID == "" {
		return domain.PaymentRecord{}, domain.ErrUnauthenticated
	}

	code, err := s.NormalizeCode(code)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if amount.IsNegative() {
		return domain.PaymentRecord{}, fmt.Errorf("%w: amount cannot be negative", domain.ErrInvalidAmount)
	}

	_, record, err := s.lifecycle.SubmitPayment(ctx, caller, orderID, domain.PaymentRecord{
		TransactionCode: code,
		AmountClaimed:   amount,
	})
	if err != nil {
		if kind, _ := domain.KindOf(err); kind == domain.KindState {
			return domain.PaymentRecord{}, fmt.Errorf("%w: %w", domain.ErrOrderNotPlaceable, err)
		}
		return domain.PaymentRecord{}, err
	}
	return record, nil
}

// Decide accepts or rejects a submitted payment.
func (s *PaymentService) Decide(ctx context.Context, caller domain.Caller, paymentID string, accept bool, notes string) (domain.Order, error) {
	if !caller.Admin {
		return domain.Order{}, domain.ErrForbidden
	}

	payment, err := s.lifecycle.loadPayment(ctx, paymentID)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.lifecycle.load(ctx, payment.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PaymentID != payment.ID {
		return domain.Order{}, fmt.Errorf("%w: payment %s was superseded", domain.ErrInvalidState, payment.ID)
	}

	s.logger.Debug("payment decision",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", order.ID),
		zap.Bool("accept", accept))

	if accept {
		return s.lifecycle.Verify(ctx, caller, order.ID)
	}
	return s.lifecycle.Reject(ctx, caller, order.ID, notes)
}

// Get returns a payment visible to caller.
func (s *PaymentService) Get(ctx context.Context, caller domain.Caller, paymentID string) (domain.PaymentRecord, error) {
	payment, err := s.lifecycle.loadPayment(ctx, paymentID)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if _, err := s.lifecycle.Get(ctx, caller, payment.OrderID); err != nil {
		return domain.PaymentRecord{}, err
	}
	return payment, nil
}

// History lists every payment submitted for an order, rejected ones included.
func (s *PaymentService) History(ctx context.Context, caller domain.Caller, orderID string) ([]domain.PaymentRecord, error) {
	if _, err := s.lifecycle.Get(ctx, caller, orderID); err != nil {
		return nil, err
	}
	return s.orders.ListPayments(ctx, orderID)
}
