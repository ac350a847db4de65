package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/port"
)

// StockMovement is a committed stock decrement waiting to be persisted.
type StockMovement struct {
	OrderID       string
	ReservationID string
	MealID        string
	Quantity      int
}

// StockJournal queues committed stock for write-behind to durable storage.
// The ledger stays authoritative; the journal only keeps the catalog rows in step.
type StockJournal struct {
	queue  chan StockMovement
	logger *zap.Logger
}

func NewStockJournal(queueSize int, logger *zap.Logger) *StockJournal {
	return &StockJournal{
		queue:  make(chan StockMovement, queueSize),
		logger: logger,
	}
}

// Record enqueues m, blocking while the queue is full.
func (j *StockJournal) Record(ctx context.Context, m StockMovement) error {
	select {
	case j.queue <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *StockJournal) Queue() <-chan StockMovement {
	return j.queue
}

// Close stops accepting movements. Workers exit once the queue is drained.
func (j *StockJournal) Close() {
	close(j.queue)
}

// Drain applies queued movements to sink until the journal is closed.
func (j *StockJournal) Drain(id int, sink port.StockSink) {
	for m := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := sink.ApplyStockCommit(ctx, m.ReservationID, m.MealID, m.Quantity); err != nil {
			j.logger.Error("failed to persist committed stock",
				zap.Int("worker", id),
				zap.String("order_id", m.OrderID),
				zap.String("meal_id", m.MealID),
				zap.Int("quantity", m.Quantity),
				zap.Error(err))
		} else {
			j.logger.Debug("persisted committed stock",
				zap.Int("worker", id),
				zap.String("order_id", m.OrderID),
				zap.String("meal_id", m.MealID))
		}

		cancel()
	}
}
