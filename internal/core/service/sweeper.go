package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

const idleReason = "abandoned after inactivity"

// Sweeper abandons orders that sat in placed or payment_submitted for longer
// than the idle timeout, giving their reserved stock back. It also retries
// ledger settlements that failed after a transition was saved.
type Sweeper struct {
	lifecycle *LifecycleManager
	orders    port.OrderRepository
	idle      time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(lifecycle *LifecycleManager, orders port.OrderRepository, idle, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		lifecycle: lifecycle,
		orders:    orders,
		idle:      idle,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("reconcile failed", zap.Error(err))
			}
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep abandons every idle order once and returns how many were abandoned.
// Orders that move on concurrently are skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	idle, err := s.orders.ListOrders(ctx, domain.OrderFilter{
		Statuses:      []domain.OrderStatus{domain.OrderStatusPlaced, domain.OrderStatusPaymentSubmitted},
		UpdatedBefore: s.now().Add(-s.idle),
	})
	if err != nil {
		return 0, err
	}

	abandoned := 0
	for _, o := range idle {
		if ctx.Err() != nil {
			return abandoned, ctx.Err()
		}
		_, err := s.lifecycle.Abandon(ctx, domain.SystemCaller, o.ID, idleReason)
		switch {
		case err == nil:
			abandoned++
		case errors.Is(err, domain.ErrInvalidState):
			s.logger.Debug("idle order moved on before sweep", zap.String("order_id", o.ID))
		default:
			s.logger.Warn("failed to abandon idle order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	if abandoned > 0 {
		s.logger.Info("idle orders abandoned", zap.Int("count", abandoned))
	}
	return abandoned, nil
}

// Reconcile settles every order still owing the ledger a commit or release and
// returns how many were fully settled.
func (s *Sweeper) Reconcile(ctx context.Context) (int, error) {
	unsettled, err := s.orders.ListOrders(ctx, domain.OrderFilter{Unsettled: true})
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, o := range unsettled {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		order, err := s.lifecycle.Reconcile(ctx, domain.SystemCaller, o.ID)
		if err != nil {
			s.logger.Warn("failed to reconcile order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if !order.Unsettled() {
			settled++
		}
	}

	if settled > 0 {
		s.logger.Info("orders reconciled", zap.Int("count", settled))
	}
	return settled, nil
}
