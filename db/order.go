package db

import (
	"context"
	"database/sql"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type OrderStorage interface {
	GetOrderGroupByOrderRef(ctx context.Context, orderRef string) (*models.OrderGroup, error)
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, target models.OrderStatus, reason string) (*models.Order, error)
}

const orderColumns = `
		id,
		group_id,
		order_ref,
		seller_id,
		amount,
		status,
		created_at,
		updated_at`

const (
	getOrderGroupByOrderRef = `
	SELECT
		id,
		order_ref,
		user_id,
		cart_ref,
		status,
		created_at,
		updated_at
	FROM
		order_groups
	WHERE
		order_ref = ?
	`

	getOrdersByOrderRef = `
	SELECT` + orderColumns + `
	FROM
		orders
	WHERE
		order_ref = ?
	ORDER BY
		seller_id ASC
	`

	getOrderByIDForUpdate = `
	SELECT` + orderColumns + `
	FROM
		orders
	WHERE
		id = ?
	FOR UPDATE
	`

	getOrderByID = `
	SELECT` + orderColumns + `
	FROM
		orders
	WHERE
		id = ?
	`
)

func (db *DB) GetOrderGroupByOrderRef(ctx context.Context, orderRef string) (*models.OrderGroup, error) {
	var group models.OrderGroup
	if err := db.GetContext(ctx, &group, db.Rebind(getOrderGroupByOrderRef), orderRef); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	group.Orders = []models.Order{}
	if err := db.SelectContext(ctx, &group.Orders, db.Rebind(getOrdersByOrderRef), orderRef); err != nil {
		return nil, err
	}
	return &group, nil
}

func (db *DB) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := db.GetContext(ctx, &order, db.Rebind(getOrderByID), orderID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus advances one Order along its fulfillment path.
func (db *DB) UpdateOrderStatus(ctx context.Context, orderID string, target models.OrderStatus, reason string) (*models.Order, error) {
	var order models.Order
	err := db.inTx(ctx, func(tx Tx) error {
		if err := tx.GetContext(ctx, &order, tx.Rebind(getOrderByIDForUpdate), orderID); err != nil {
			if err == sql.ErrNoRows {
				return models.ErrNotFound
			}
			return err
		}

		if !order.Status.CanTransitionTo(target) {
			return errors.Wrapf(models.ErrIllegalTransition, "order %s: %s -> %s", order.ID, order.Status, target)
		}

		changed, err := transitionOrders(ctx, tx, order.OrderRef, []string{order.ID}, target, reason, models.SourceOperator)
		if err != nil {
			return err
		}
		if changed != 1 {
			return errors.Wrapf(models.ErrIllegalTransition, "order %s changed concurrently", order.ID)
		}

		order.Status = target
		order.Updated = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// transitionOrders moves the given orders to target with a compare-and-swap on the legal source statuses,
// writing one history row per changed order. It returns the number of orders changed.
func transitionOrders(ctx context.Context, tx Tx, orderRef string, orderIDs []string, target models.OrderStatus, reason string, source models.SignalSource) (int, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	var current []models.Order
	selectQuery, args, err := sqlx.In(`SELECT`+orderColumns+` FROM orders WHERE id IN (?)`, orderIDs)
	if err != nil {
		return 0, err
	}
	if err := tx.SelectContext(ctx, &current, tx.Rebind(selectQuery), args...); err != nil {
		return 0, errors.Wrap(err, "failed reading orders")
	}

	now := time.Now().UTC()
	changed := 0
	for _, order := range current {
		if !order.Status.CanTransitionTo(target) {
			continue
		}

		result, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
			target, now, order.ID, order.Status,
		)
		if err != nil {
			return changed, errors.Wrap(err, "failed updating order status")
		}
		if n, err := result.RowsAffected(); err != nil || n != 1 {
			continue
		}

		if err := insertHistory(ctx, tx, insertOrderHistory, &models.OrderStatusChange{
			OrderRef:   orderRef,
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   target,
			Reason:     reason,
			Source:     source,
		}); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}
