package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// LifecycleManager owns the order state machine:
//
//	placed -> payment_submitted -> verified
//	   ^            |
//	   +-- reject --+
//	placed | payment_submitted -> abandoned
//
// Stock is reserved on placement, committed on verification and released on
// rejection or abandonment. Whoever wins the versioned state write owns the
// disposition of the order's reservation tokens. The write records the
// settlement each token is owed, and tokens leave the order only once the
// ledger has applied it.
type LifecycleManager struct {
	catalog port.CatalogRepository
	orders  port.OrderRepository
	ledger  port.InventoryLedger
	guard   port.IdempotencyGuard
	journal *StockJournal
	builder *OrderBuilder
	logger  *zap.Logger
	now     func() time.Time
}

type LifecycleOption func(*LifecycleManager)

// WithIdempotency rejects repeated placement requests carrying the same key.
func WithIdempotency(guard port.IdempotencyGuard) LifecycleOption {
	return func(m *LifecycleManager) { m.guard = guard }
}

// WithJournal forwards committed stock to durable storage.
func WithJournal(journal *StockJournal) LifecycleOption {
	return func(m *LifecycleManager) { m.journal = journal }
}

func WithClock(now func() time.Time) LifecycleOption {
	return func(m *LifecycleManager) { m.now = now }
}

func NewLifecycleManager(
	catalog port.CatalogRepository,
	orders port.OrderRepository,
	ledger port.InventoryLedger,
	logger *zap.Logger,
	opts ...LifecycleOption,
) *LifecycleManager {
	m := &LifecycleManager{
		catalog: catalog,
		orders:  orders,
		ledger:  ledger,
		builder: NewOrderBuilder(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Place validates cart against the current catalog, reserves stock for every
// line and persists the order. Either every line is reserved or none is.
func (m *LifecycleManager) Place(ctx context.Context, caller domain.Caller, cart []domain.OrderLine, idempotencyKey string) (domain.Order, error) {
	if caller.UserID == "" {
		return domain.Order{}, domain.ErrUnauthenticated
	}

	if idempotencyKey != "" && m.guard != nil {
		key := fmt.Sprintf("checkout:%s:%s", caller.UserID, idempotencyKey)
		ok, err := m.guard.Claim(ctx, key)
		if err != nil {
			return domain.Order{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return domain.Order{}, domain.ErrDuplicateRequest
		}

		order, err := m.place(ctx, caller, cart)
		if err != nil {
			// Nothing was placed, so the key is free for a corrected retry.
			if rerr := m.guard.Release(ctx, key); rerr != nil {
				m.logger.Warn("failed to release idempotency key",
					zap.String("user_id", caller.UserID),
					zap.String("key", idempotencyKey),
					zap.Error(rerr))
			}
			return domain.Order{}, err
		}
		return order, nil
	}

	return m.place(ctx, caller, cart)
}

func (m *LifecycleManager) place(ctx context.Context, caller domain.Caller, cart []domain.OrderLine) (domain.Order, error) {
	catalog, err := m.snapshot(ctx, cart)
	if err != nil {
		return domain.Order{}, err
	}

	validated, err := m.builder.Validate(cart, catalog)
	if err != nil {
		return domain.Order{}, err
	}

	tokens, err := m.reserveAll(ctx, validated.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	now := m.now()
	order := domain.Order{
		ID:           uuid.New().String(),
		UserID:       caller.UserID,
		Lines:        validated.Lines,
		Total:        validated.Total,
		Status:       domain.OrderStatusPlaced,
		Reservations: tokens,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.orders.CreateOrder(ctx, order); err != nil {
		return domain.Order{}, errors.Join(err, m.releaseAll(ctx, order.ID, tokens))
	}

	m.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.Total.String()),
		zap.Int("lines", len(order.Lines)))

	return order, nil
}

// snapshot loads the meals referenced by cart. Unknown meals are left out so
// the builder reports them.
func (m *LifecycleManager) snapshot(ctx context.Context, cart []domain.OrderLine) (map[string]domain.MenuItem, error) {
	catalog := make(map[string]domain.MenuItem, len(cart))
	for _, line := range cart {
		if _, ok := catalog[line.MealID]; ok {
			continue
		}
		meal, err := m.catalog.GetMeal(ctx, line.MealID)
		if err != nil {
			return nil, fmt.Errorf("load meal %s: %w", line.MealID, err)
		}
		if meal != nil {
			catalog[meal.ID] = *meal
		}
	}
	return catalog, nil
}

// reserveAll reserves lines in order and rolls back on the first failure.
func (m *LifecycleManager) reserveAll(ctx context.Context, lines []domain.PricedLine) ([]domain.ReservationToken, error) {
	tokens := make([]domain.ReservationToken, 0, len(lines))
	for _, line := range lines {
		token, err := m.ledger.Reserve(ctx, line.MealID, line.Quantity)
		if err != nil {
			return nil, errors.Join(err, m.releaseAll(ctx, "", tokens))
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (m *LifecycleManager) releaseAll(ctx context.Context, orderID string, tokens []domain.ReservationToken) error {
	var errs []error
	for _, token := range tokens {
		if err := m.release(ctx, orderID, token); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *LifecycleManager) release(ctx context.Context, orderID string, token domain.ReservationToken) error {
	if err := m.ledger.Release(ctx, token); err != nil {
		m.logger.Error("release reservation failed",
			zap.String("order_id", orderID),
			zap.String("reservation_id", token.ID),
			zap.String("meal_id", token.MealID),
			zap.Error(err))
		return fmt.Errorf("release %s: %w", token.ID, err)
	}
	return nil
}

func (m *LifecycleManager) commit(ctx context.Context, orderID string, token domain.ReservationToken) error {
	if err := m.ledger.Commit(ctx, token); err != nil {
		m.logger.Error("commit reservation failed",
			zap.String("order_id", orderID),
			zap.String("reservation_id", token.ID),
			zap.String("meal_id", token.MealID),
			zap.Error(err))
		return fmt.Errorf("commit %s: %w", token.ID, err)
	}
	if m.journal != nil {
		movement := StockMovement{OrderID: orderID, ReservationID: token.ID, MealID: token.MealID, Quantity: token.Quantity}
		if err := m.journal.Record(ctx, movement); err != nil {
			m.logger.Warn("stock journal rejected movement",
				zap.String("order_id", orderID),
				zap.String("meal_id", token.MealID),
				zap.Error(err))
		}
	}
	return nil
}

// owe marks every token the order still holds with the outcome the ledger
// has to apply once the transition is saved.
func owe(order *domain.Order, outcome domain.ReservationState) {
	for i := range order.Reservations {
		if order.Reservations[i].Settle == "" {
			order.Reservations[i].Settle = outcome
		}
	}
}

// settle applies the commits and releases order owes the ledger. Settled
// tokens are dropped from the order and failed ones stay for a later attempt.
func (m *LifecycleManager) settle(ctx context.Context, order *domain.Order) error {
	var (
		kept []domain.ReservationToken
		errs []error
	)
	for _, token := range order.Reservations {
		var err error
		switch token.Settle {
		case "":
			kept = append(kept, token)
			continue
		case domain.ReservationCommitted:
			err = m.commit(ctx, order.ID, token)
		default:
			err = m.release(ctx, order.ID, token)
		}
		if err != nil {
			kept = append(kept, token)
			errs = append(errs, err)
		}
	}

	if len(kept) == len(order.Reservations) {
		return errors.Join(errs...)
	}
	order.Reservations = kept
	if err := m.save(ctx, order, nil); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *LifecycleManager) load(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := m.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return *order, nil
}

func (m *LifecycleManager) loadPayment(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	p, err := m.orders.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.PaymentRecord{}, fmt.Errorf("load payment: %w", err)
	}
	if p == nil {
		return domain.PaymentRecord{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	return *p, nil
}

// save writes a transition and advances the local version. A lost race means
// the caller acted on a stale view of the order.
func (m *LifecycleManager) save(ctx context.Context, order *domain.Order, payment *domain.PaymentRecord) error {
	err := m.orders.SaveTransition(ctx, *order, payment)
	if errors.Is(err, port.ErrOptimisticLock) {
		return fmt.Errorf("%w: order %s changed concurrently", domain.ErrInvalidState, order.ID)
	}
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	order.Version++
	return nil
}

// SubmitPayment attaches payment evidence to a placed order. Stock released by
// an earlier rejection is reserved again before the transition.
func (m *LifecycleManager) SubmitPayment(ctx context.Context, caller domain.Caller, orderID string, record domain.PaymentRecord) (domain.Order, domain.PaymentRecord, error) {
	order, err := m.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, domain.PaymentRecord{}, err
	}
	if !caller.Owns(order) {
		return domain.Order{}, domain.PaymentRecord{}, domain.ErrForbidden
	}

	if order.PaymentID != "" {
		existing, err := m.loadPayment(ctx, order.PaymentID)
		if err != nil {
			return domain.Order{}, domain.PaymentRecord{}, err
		}
		if existing.Active() {
			return domain.Order{}, domain.PaymentRecord{}, fmt.Errorf("%w: payment %s is %s",
				domain.ErrDuplicatePayment, existing.ID, existing.Outcome)
		}
	}
	if order.Status != domain.OrderStatusPlaced {
		return domain.Order{}, domain.PaymentRecord{}, fmt.Errorf("%w: order is %s", domain.ErrInvalidState, order.Status)
	}

	var acquired []domain.ReservationToken
	if !order.Holding() {
		acquired, err = m.reserveAll(ctx, order.Lines)
		if err != nil {
			return domain.Order{}, domain.PaymentRecord{}, err
		}
		order.Reservations = append(order.Reservations, acquired...)
	}

	now := m.now()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.AmountClaimed.IsZero() {
		record.AmountClaimed = order.Total
	}
	record.OrderID = order.ID
	record.SubmittedAt = now
	record.Outcome = domain.PaymentUnverified
	record.VerifiedBy = ""
	record.VerifiedAt = nil

	order.Status = domain.OrderStatusPaymentSubmitted
	order.PaymentID = record.ID
	order.Notes = ""
	order.UpdatedAt = now

	if err := m.save(ctx, &order, &record); err != nil {
		return domain.Order{}, domain.PaymentRecord{}, errors.Join(err, m.releaseAll(ctx, order.ID, acquired))
	}

	m.logger.Info("payment submitted",
		zap.String("order_id", order.ID),
		zap.String("payment_id", record.ID),
		zap.String("amount", record.AmountClaimed.String()))

	return order, record, nil
}

// Verify finalizes a paid order and permanently consumes its stock.
func (m *LifecycleManager) Verify(ctx context.Context, caller domain.Caller, orderID string) (domain.Order, error) {
	if !caller.Admin {
		return domain.Order{}, domain.ErrForbidden
	}

	order, err := m.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPaymentSubmitted {
		return domain.Order{}, fmt.Errorf("%w: order is %s", domain.ErrInvalidState, order.Status)
	}

	payment, err := m.loadPayment(ctx, order.PaymentID)
	if err != nil {
		return domain.Order{}, err
	}

	now := m.now()
	payment.Outcome = domain.PaymentVerified
	payment.VerifiedBy = caller.UserID
	payment.VerifiedAt = &now

	owe(&order, domain.ReservationCommitted)
	order.Status = domain.OrderStatusVerified
	order.UpdatedAt = now

	if err := m.save(ctx, &order, &payment); err != nil {
		return domain.Order{}, err
	}

	if err := m.settle(ctx, &order); err != nil {
		return order, fmt.Errorf("order %s verified but stock commit failed: %w", order.ID, err)
	}

	m.logger.Info("payment verified",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.String("admin_id", caller.UserID))

	return order, nil
}

// Reject marks the payment rejected and returns the order to placed so the
// customer can submit a corrected code. Reserved stock is released.
func (m *LifecycleManager) Reject(ctx context.Context, caller domain.Caller, orderID, notes string) (domain.Order, error) {
	if !caller.Admin {
		return domain.Order{}, domain.ErrForbidden
	}

	order, err := m.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPaymentSubmitted {
		return domain.Order{}, fmt.Errorf("%w: order is %s", domain.ErrInvalidState, order.Status)
	}

	payment, err := m.loadPayment(ctx, order.PaymentID)
	if err != nil {
		return domain.Order{}, err
	}

	now := m.now()
	payment.Outcome = domain.PaymentRejected
	payment.VerifiedBy = caller.UserID
	payment.VerifiedAt = &now
	payment.Notes = notes

	owe(&order, domain.ReservationReleased)
	order.Status = domain.OrderStatusPlaced
	order.Notes = notes
	order.UpdatedAt = now

	if err := m.save(ctx, &order, &payment); err != nil {
		return domain.Order{}, err
	}

	if err := m.settle(ctx, &order); err != nil {
		return order, fmt.Errorf("order %s rejected but stock release failed: %w", order.ID, err)
	}

	m.logger.Info("payment rejected",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.String("admin_id", caller.UserID),
		zap.String("notes", notes))

	return order, nil
}

// Abandon cancels an unfinished order and releases its stock. Administrators
// may abandon placed or payment_submitted orders; owners only placed ones.
func (m *LifecycleManager) Abandon(ctx context.Context, caller domain.Caller, orderID, reason string) (domain.Order, error) {
	order, err := m.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if !caller.Admin {
		if !caller.Owns(order) {
			return domain.Order{}, domain.ErrForbidden
		}
		if order.Status == domain.OrderStatusPaymentSubmitted {
			return domain.Order{}, fmt.Errorf("%w: payment is under review", domain.ErrInvalidState)
		}
	}
	if order.Status != domain.OrderStatusPlaced && order.Status != domain.OrderStatusPaymentSubmitted {
		return domain.Order{}, fmt.Errorf("%w: order is %s", domain.ErrInvalidState, order.Status)
	}

	now := m.now()
	var payment *domain.PaymentRecord
	if order.Status == domain.OrderStatusPaymentSubmitted {
		p, err := m.loadPayment(ctx, order.PaymentID)
		if err != nil {
			return domain.Order{}, err
		}
		p.Outcome = domain.PaymentRejected
		p.VerifiedBy = caller.UserID
		p.VerifiedAt = &now
		p.Notes = reason
		payment = &p
	}

	owe(&order, domain.ReservationReleased)
	order.Status = domain.OrderStatusAbandoned
	order.Notes = reason
	order.UpdatedAt = now

	if err := m.save(ctx, &order, payment); err != nil {
		return domain.Order{}, err
	}

	if err := m.settle(ctx, &order); err != nil {
		return order, fmt.Errorf("order %s abandoned but stock release failed: %w", order.ID, err)
	}

	m.logger.Info("order abandoned",
		zap.String("order_id", order.ID),
		zap.String("by", caller.UserID),
		zap.String("reason", reason))

	return order, nil
}

// Reconcile retries the commits and releases an order still owes the ledger
// after an earlier attempt failed. Orders with nothing owed are returned as is.
func (m *LifecycleManager) Reconcile(ctx context.Context, caller domain.Caller, orderID string) (domain.Order, error) {
	if !caller.Admin {
		return domain.Order{}, domain.ErrForbidden
	}

	order, err := m.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.Unsettled() {
		return order, nil
	}

	if err := m.settle(ctx, &order); err != nil {
		return order, fmt.Errorf("reconcile order %s: %w", order.ID, err)
	}

	m.logger.Info("order reconciled",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)))

	return order, nil
}

// Get returns an order visible to caller.
func (m *LifecycleManager) Get(ctx context.Context, caller domain.Caller, orderID string) (domain.Order, error) {
	order, err := m.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !caller.Admin && !caller.Owns(order) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

func (m *LifecycleManager) ListForUser(ctx context.Context, caller domain.Caller) ([]domain.Order, error) {
	if caller.UserID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return m.orders.ListOrders(ctx, domain.OrderFilter{UserID: caller.UserID})
}

func (m *LifecycleManager) List(ctx context.Context, caller domain.Caller, filter domain.OrderFilter) ([]domain.Order, error) {
	if !caller.Admin {
		return nil, domain.ErrForbidden
	}
	return m.orders.ListOrders(ctx, filter)
}

// Pending lists orders awaiting a payment decision, oldest first.
func (m *LifecycleManager) Pending(ctx context.Context, caller domain.Caller) ([]domain.PendingPayment, error) {
	if !caller.Admin {
		return nil, domain.ErrForbidden
	}

	orders, err := m.orders.ListOrders(ctx, domain.OrderFilter{
		Statuses: []domain.OrderStatus{domain.OrderStatusPaymentSubmitted},
	})
	if err != nil {
		return nil, err
	}

	pending := make([]domain.PendingPayment, 0, len(orders))
	for i := len(orders) - 1; i >= 0; i-- {
		payment, err := m.loadPayment(ctx, orders[i].PaymentID)
		if err != nil {
			return nil, err
		}
		pending = append(pending, domain.PendingPayment{
			Order:         orders[i],
			Payment:       payment,
			AmountMatches: payment.AmountClaimed.Equal(orders[i].Total),
		})
	}
	return pending, nil
}
