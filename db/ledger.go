package db

import (
	"context"
	"database/sql"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
)

type LedgerStorage interface {
	LockPayment(ctx context.Context, orderRef string) (PaymentTx, error)
}

// PaymentTx is an open transaction holding the row lock on one payment and its orders.
// Every transition writes Payment, OrderGroup, Orders and history together; nothing is
// visible until Commit.
type PaymentTx interface {
	Payment() *models.Payment
	Orders() []models.Order

	Complete(gatewayToken string, approvedAt time.Time, source models.SignalSource) error
	Fail(reason string, source models.SignalSource) error
	Cancel(reason string, canceledAt time.Time, source models.SignalSource) error

	Commit() error
	Rollback() error
}

const (
	lockPaymentByOrderRef = `
	SELECT` + paymentColumns + `
	FROM
		payments
	WHERE
		order_ref = ?
	FOR UPDATE
	`

	lockOrdersByOrderRef = `
	SELECT` + orderColumns + `
	FROM
		orders
	WHERE
		order_ref = ?
	ORDER BY
		seller_id ASC
	FOR UPDATE
	`

	completePayment = `
	UPDATE
		payments
	SET
		status = ?,
		gateway_token = ?,
		approved_at = ?,
		pending_key = NULL,
		updated_at = ?
	WHERE
		order_ref = ? AND
		status = ?
	`

	failPayment = `
	UPDATE
		payments
	SET
		status = ?,
		fail_reason = ?,
		pending_key = NULL,
		updated_at = ?
	WHERE
		order_ref = ? AND
		status = ?
	`

	cancelPayment = `
	UPDATE
		payments
	SET
		status = ?,
		cancel_reason = ?,
		canceled_at = ?,
		updated_at = ?
	WHERE
		order_ref = ? AND
		status = ?
	`

	updateOrderGroupStatus = `
	UPDATE
		order_groups
	SET
		status = ?,
		updated_at = ?
	WHERE
		order_ref = ? AND
		status = ?
	`
)

func (db *DB) LockPayment(ctx context.Context, orderRef string) (PaymentTx, error) {
	tx, err := db.NewTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transaction")
	}

	var payment models.Payment
	if err := tx.GetContext(ctx, &payment, tx.Rebind(lockPaymentByOrderRef), orderRef); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(models.ErrNotFound, "payment %s", orderRef)
		}
		return nil, errors.Wrap(err, "failed locking payment")
	}

	orders := []models.Order{}
	if err := tx.SelectContext(ctx, &orders, tx.Rebind(lockOrdersByOrderRef), orderRef); err != nil {
		tx.Rollback()
		return nil, errors.Wrap(err, "failed locking orders")
	}

	return &paymentTx{ctx: ctx, tx: tx, payment: &payment, orders: orders}, nil
}

type paymentTx struct {
	ctx     context.Context
	tx      Tx
	payment *models.Payment
	orders  []models.Order
	done    bool
}

func (p *paymentTx) Payment() *models.Payment { return p.payment }

func (p *paymentTx) Orders() []models.Order { return p.orders }

func (p *paymentTx) Complete(gatewayToken string, approvedAt time.Time, source models.SignalSource) error {
	if err := p.transitionPayment(models.PaymentCompleted, "payment approved", source, func(now time.Time) (sql.Result, error) {
		return p.tx.ExecContext(p.ctx, p.tx.Rebind(completePayment),
			models.PaymentCompleted, gatewayToken, approvedAt.UTC(), now, p.payment.OrderRef, models.PaymentPending)
	}); err != nil {
		return err
	}

	if err := p.transitionGroup(models.OrderPending, models.OrderConfirmed); err != nil {
		return err
	}
	if err := p.transitionAllOrders(models.OrderConfirmed, "payment approved", source); err != nil {
		return err
	}

	p.payment.GatewayToken = &gatewayToken
	p.payment.ApprovedAt = &approvedAt
	p.payment.PendingKey = nil
	return nil
}

func (p *paymentTx) Fail(reason string, source models.SignalSource) error {
	if err := p.transitionPayment(models.PaymentFailed, reason, source, func(now time.Time) (sql.Result, error) {
		return p.tx.ExecContext(p.ctx, p.tx.Rebind(failPayment),
			models.PaymentFailed, reason, now, p.payment.OrderRef, models.PaymentPending)
	}); err != nil {
		return err
	}

	if err := p.transitionGroup(models.OrderPending, models.OrderFailed); err != nil {
		return err
	}
	if err := p.transitionAllOrders(models.OrderFailed, reason, source); err != nil {
		return err
	}

	p.payment.FailReason = &reason
	p.payment.PendingKey = nil
	return nil
}

func (p *paymentTx) Cancel(reason string, canceledAt time.Time, source models.SignalSource) error {
	for _, order := range p.orders {
		if !order.Status.CanTransitionTo(models.OrderCanceled) {
			return errors.Wrapf(models.ErrIllegalTransition, "order %s is %s", order.ID, order.Status)
		}
	}

	if err := p.transitionPayment(models.PaymentCanceled, reason, source, func(now time.Time) (sql.Result, error) {
		return p.tx.ExecContext(p.ctx, p.tx.Rebind(cancelPayment),
			models.PaymentCanceled, reason, canceledAt.UTC(), now, p.payment.OrderRef, models.PaymentCompleted)
	}); err != nil {
		return err
	}

	if err := p.transitionGroup(models.OrderConfirmed, models.OrderCanceled); err != nil {
		return err
	}
	if err := p.transitionAllOrders(models.OrderCanceled, reason, source); err != nil {
		return err
	}

	p.payment.CancelReason = &reason
	p.payment.CanceledAt = &canceledAt
	return nil
}

func (p *paymentTx) transitionPayment(target models.PaymentStatus, reason string, source models.SignalSource, update func(now time.Time) (sql.Result, error)) error {
	from := p.payment.Status
	if !from.CanTransitionTo(target) {
		return errors.Wrapf(models.ErrIllegalTransition, "payment %s: %s -> %s", p.payment.OrderRef, from, target)
	}

	now := time.Now().UTC()
	result, err := update(now)
	if err != nil {
		return errors.Wrap(err, "failed updating payment status")
	}
	if err := expectOne(result, "updated"); err != nil {
		return err
	}

	if err := insertHistory(p.ctx, p.tx, insertPaymentHistory, &models.PaymentStatusChange{
		OrderRef:   p.payment.OrderRef,
		FromStatus: from,
		ToStatus:   target,
		Reason:     reason,
		Source:     source,
	}); err != nil {
		return err
	}

	p.payment.Status = target
	p.payment.Updated = now
	return nil
}

func (p *paymentTx) transitionGroup(from, target models.OrderStatus) error {
	result, err := p.tx.ExecContext(p.ctx, p.tx.Rebind(updateOrderGroupStatus), target, time.Now().UTC(), p.payment.OrderRef, from)
	if err != nil {
		return errors.Wrap(err, "failed updating order group status")
	}
	return expectOne(result, "updated")
}

func (p *paymentTx) transitionAllOrders(target models.OrderStatus, reason string, source models.SignalSource) error {
	ids := make([]string, 0, len(p.orders))
	for _, order := range p.orders {
		ids = append(ids, order.ID)
	}

	changed, err := transitionOrders(p.ctx, p.tx, p.payment.OrderRef, ids, target, reason, source)
	if err != nil {
		return err
	}
	if changed != len(ids) {
		return errors.Wrapf(models.ErrIllegalTransition, "moved %d of %d orders to %s", changed, len(ids), target)
	}

	for i := range p.orders {
		p.orders[i].Status = target
	}
	return nil
}

func (p *paymentTx) Commit() error {
	if p.done {
		return errors.New("transaction already finished")
	}
	p.done = true
	if err := p.tx.Commit(); err != nil {
		return errors.Wrap(models.ErrPersistence, err.Error())
	}
	return nil
}

// Rollback is a no-op after Commit so callers can defer it unconditionally.
func (p *paymentTx) Rollback() error {
	if p.done {
		return nil
	}
	p.done = true
	return p.tx.Rollback()
}
