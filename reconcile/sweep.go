package reconcile

import (
	"context"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	log "github.com/sirupsen/logrus"
)

type PendingLister interface {
	GetStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
}

type SweepReport struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Sweeper resolves payments left PENDING by a timed-out confirmation or a webhook that never came.
type Sweeper struct {
	engine  *Engine
	pending PendingLister
}

func NewSweeper(engine *Engine, pending PendingLister) *Sweeper {
	return &Sweeper{engine: engine, pending: pending}
}

func (s *Sweeper) Sweep(ctx context.Context, olderThan time.Duration, limit int) (*SweepReport, error) {
	payments, err := s.pending.GetStalePendingPayments(ctx, s.engine.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{}
	for _, payment := range payments {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		outcome, err := s.engine.Reconcile(ctx, models.ConfirmationSignal{
			OrderRef: payment.OrderRef,
			Source:   models.SourceSweep,
		})
		if err != nil {
			report.Errors++
			s.engine.logger.WithFields(log.Fields{
				"order_ref": payment.OrderRef,
				"error":     err,
			}).Error("sweep failed to reconcile payment")
			continue
		}

		switch outcome.Status {
		case models.PaymentCompleted:
			report.Completed++
		case models.PaymentFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}

	s.engine.logger.WithFields(log.Fields{
		"checked":   report.Checked,
		"completed": report.Completed,
		"failed":    report.Failed,
		"pending":   report.Pending,
		"errors":    report.Errors,
	}).Info("reconciliation sweep finished")
	return report, nil
}
