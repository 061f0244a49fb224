package reconcile

import (
	"context"

	"bitbucket.org/parqueoasis/payments/gateway"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type CancelRequest struct {
	OrderRef string
	Reason   string
	UserID   int
	Admin    bool
	Source   models.SignalSource
}

// Cancel refunds a COMPLETED payment at the gateway and cancels it with its orders.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (*models.Outcome, error) {
	if req.OrderRef == "" {
		return nil, models.NewValidationError("order_ref", "is required")
	}
	if req.Reason == "" {
		return nil, models.NewValidationError("reason", "is required")
	}
	if req.Source == "" {
		req.Source = models.SourceClient
	}

	logger := e.logger.WithFields(log.Fields{
		"order_ref": req.OrderRef,
		"source":    req.Source,
	})

	txCtx, cancel := e.ledgerContext(ctx)
	defer cancel()
	ptx, err := e.ledger.LockPayment(txCtx, req.OrderRef)
	if err != nil {
		return nil, err
	}
	defer ptx.Rollback()

	payment := ptx.Payment()
	if !req.Admin && payment.UserID != req.UserID {
		return nil, errors.Wrapf(models.ErrForbidden, "payment %s", req.OrderRef)
	}

	switch payment.Status {
	case models.PaymentCanceled:
		return replay(payment), nil
	case models.PaymentCompleted:
	default:
		return nil, errors.Wrapf(models.ErrIllegalTransition, "payment %s is %s", req.OrderRef, payment.Status)
	}

	if err := ordersCancellable(ptx.Orders()); err != nil {
		return nil, err
	}
	if payment.GatewayToken == nil {
		return nil, errors.Wrapf(models.ErrIllegalTransition, "payment %s has no gateway token", req.OrderRef)
	}

	cancellation, err := e.gateway.Cancel(ctx, *payment.GatewayToken, req.Reason)
	if err != nil {
		logger.WithField("error", err).Warn("gateway cancel failed")
		return nil, err
	}

	if err := ptx.Cancel(req.Reason, cancellation.CanceledAt, req.Source); err != nil {
		return nil, err
	}
	if err := ptx.Commit(); err != nil {
		logger.WithField("error", err).Error("payment canceled at gateway but not recorded")
		e.alert("payment canceled at gateway but not recorded", map[string]interface{}{
			"order_ref": req.OrderRef,
			"error":     err.Error(),
		})
		return nil, err
	}

	logger.Info("payment canceled")
	e.publish(ctx, payment, req.Source)
	return models.OutcomeOf(payment), nil
}

// SyncCancellation records a cancellation that happened on the gateway side, once the gateway's
// own record confirms it.
func (e *Engine) SyncCancellation(ctx context.Context, orderRef string, source models.SignalSource) (*models.Outcome, error) {
	if orderRef == "" {
		return nil, models.NewValidationError("order_ref", "is required")
	}
	logger := e.logger.WithFields(log.Fields{
		"order_ref": orderRef,
		"source":    source,
	})

	txCtx, cancel := e.ledgerContext(ctx)
	defer cancel()
	ptx, err := e.ledger.LockPayment(txCtx, orderRef)
	if err != nil {
		return nil, err
	}
	defer ptx.Rollback()

	payment := ptx.Payment()
	if payment.Status != models.PaymentCompleted {
		return replay(payment), nil
	}

	conf, err := e.gateway.Lookup(ctx, orderRef)
	if err != nil {
		logger.WithField("error", err).Warn("could not verify cancellation with gateway")
		return &models.Outcome{OrderRef: orderRef, Status: payment.Status, Unknown: true}, nil
	}
	if conf.Status != gateway.StatusCanceled {
		logger.WithField("gateway_status", conf.Status).Warn("cancel event not confirmed by gateway")
		return models.OutcomeOf(payment), nil
	}

	if err := ordersCancellable(ptx.Orders()); err != nil {
		logger.WithField("error", err).Error("gateway canceled a payment whose orders are in fulfillment")
		e.alert("gateway canceled a payment whose orders are in fulfillment", map[string]interface{}{
			"order_ref": orderRef,
		})
		return nil, err
	}

	reason := "canceled at gateway"
	canceledAt := e.now()
	if n := len(conf.Cancels); n > 0 {
		if conf.Cancels[n-1].CancelReason != "" {
			reason = conf.Cancels[n-1].CancelReason
		}
		canceledAt = conf.Cancels[n-1].CanceledAt
	}

	if err := ptx.Cancel(reason, canceledAt, source); err != nil {
		return nil, err
	}
	if err := ptx.Commit(); err != nil {
		return nil, err
	}

	logger.Info("gateway cancellation recorded")
	e.publish(ctx, payment, source)
	return models.OutcomeOf(payment), nil
}

// Abandon fails a PENDING payment the customer gave up on before confirming.
func (e *Engine) Abandon(ctx context.Context, orderRef, reason string, userID int) (*models.Outcome, error) {
	if orderRef == "" {
		return nil, models.NewValidationError("order_ref", "is required")
	}
	if reason == "" {
		return nil, models.NewValidationError("fail_reason", "is required")
	}

	txCtx, cancel := e.ledgerContext(ctx)
	defer cancel()
	ptx, err := e.ledger.LockPayment(txCtx, orderRef)
	if err != nil {
		return nil, err
	}
	defer ptx.Rollback()

	payment := ptx.Payment()
	if userID != 0 && payment.UserID != userID {
		return nil, errors.Wrapf(models.ErrForbidden, "payment %s", orderRef)
	}
	if payment.Status.IsTerminal() {
		return replay(payment), nil
	}

	return e.fail(ctx, ptx, "abandoned: "+reason, models.SourceClient)
}

func ordersCancellable(orders []models.Order) error {
	for _, order := range orders {
		if !order.Status.CanTransitionTo(models.OrderCanceled) {
			return errors.Wrapf(models.ErrIllegalTransition, "order %s is %s", order.ID, order.Status)
		}
	}
	return nil
}
