package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
)

type PaymentStorage interface {
	InsertCheckout(ctx context.Context, opts *InsertCheckoutOpts) (*models.Payment, error)
	GetPaymentByOrderRef(ctx context.Context, orderRef string) (*models.Payment, error)
	GetPendingPayment(ctx context.Context, userID int, amount int64) (*models.Payment, error)
	GetPayments(ctx context.Context, opts *models.GetPaymentsOpts) ([]models.Payment, error)
	GetStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
	GetPaymentHistory(ctx context.Context, orderRef string) ([]models.PaymentStatusChange, error)
}

type InsertCheckoutOpts struct {
	OrderRef string
	UserID   int
	Amount   int64
	Method   models.PaymentMethod
	CartRef  string
	Lines    []models.CartLine
}

const paymentColumns = `
		id,
		order_ref,
		user_id,
		amount,
		method,
		status,
		gateway_token,
		fail_reason,
		cancel_reason,
		pending_key,
		approved_at,
		canceled_at,
		created_at,
		updated_at`

const (
	insertPayment = `
	INSERT INTO payments (
		id, order_ref, user_id, amount, method, status, pending_key, created_at, updated_at
	) VALUES (
		:id, :order_ref, :user_id, :amount, :method, :status, :pending_key, :created_at, :updated_at
	)`

	insertOrderGroup = `
	INSERT INTO order_groups (
		id, order_ref, user_id, cart_ref, status, created_at, updated_at
	) VALUES (
		:id, :order_ref, :user_id, :cart_ref, :status, :created_at, :updated_at
	)`

	insertOrder = `
	INSERT INTO orders (
		id, group_id, order_ref, seller_id, amount, status, created_at, updated_at
	) VALUES (
		:id, :group_id, :order_ref, :seller_id, :amount, :status, :created_at, :updated_at
	)`

	insertPaymentHistory = `
	INSERT INTO payment_status_history (
		id, order_ref, from_status, to_status, reason, source, created_at
	) VALUES (
		:id, :order_ref, :from_status, :to_status, :reason, :source, :created_at
	)`

	insertOrderHistory = `
	INSERT INTO order_status_history (
		id, order_ref, order_id, from_status, to_status, reason, source, created_at
	) VALUES (
		:id, :order_ref, :order_id, :from_status, :to_status, :reason, :source, :created_at
	)`

	getPaymentByOrderRef = `
	SELECT` + paymentColumns + `
	FROM
		payments
	WHERE
		order_ref = ?
	`

	getPaymentByPendingKey = `
	SELECT` + paymentColumns + `
	FROM
		payments
	WHERE
		pending_key = ?
	`

	getStalePendingPayments = `
	SELECT` + paymentColumns + `
	FROM
		payments
	WHERE
		status = ? AND
		created_at < ?
	ORDER BY
		created_at ASC
	LIMIT ?
	`

	getPaymentHistory = `
	SELECT
		id,
		order_ref,
		from_status,
		to_status,
		reason,
		source,
		created_at
	FROM
		payment_status_history
	WHERE
		order_ref = ?
	ORDER BY
		created_at ASC
	`
)

func (db *DB) InsertCheckout(ctx context.Context, opts *InsertCheckoutOpts) (*models.Payment, error) {
	now := time.Now().UTC()
	pendingKey := models.PendingKeyFor(opts.UserID, opts.Amount)
	payment := &models.Payment{
		ID:         newID(),
		OrderRef:   opts.OrderRef,
		UserID:     opts.UserID,
		Amount:     opts.Amount,
		Method:     opts.Method,
		Status:     models.PaymentPending,
		PendingKey: &pendingKey,
		Created:    now,
		Updated:    now,
	}
	group := &models.OrderGroup{
		ID:       newID(),
		OrderRef: opts.OrderRef,
		UserID:   opts.UserID,
		CartRef:  opts.CartRef,
		Status:   models.OrderPending,
		Created:  now,
		Updated:  now,
	}

	err := db.inTx(ctx, func(tx Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertPayment, payment); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return errors.Wrap(err, "failed inserting payment")
		}

		if err := insertHistory(ctx, tx, insertPaymentHistory, &models.PaymentStatusChange{
			OrderRef: opts.OrderRef,
			ToStatus: models.PaymentPending,
			Reason:   "checkout prepared",
			Source:   models.SourceClient,
		}); err != nil {
			return err
		}

		if _, err := tx.NamedExecContext(ctx, insertOrderGroup, group); err != nil {
			return errors.Wrap(err, "failed inserting order group")
		}

		for _, line := range opts.Lines {
			order := models.Order{
				ID:       newID(),
				GroupID:  group.ID,
				OrderRef: opts.OrderRef,
				SellerID: line.SellerID,
				Amount:   line.Amount,
				Status:   models.OrderPending,
				Created:  now,
				Updated:  now,
			}
			if _, err := tx.NamedExecContext(ctx, insertOrder, &order); err != nil {
				return errors.Wrap(err, "failed inserting order")
			}
			group.Orders = append(group.Orders, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// insertHistory fills id and created_at before writing an audit row.
func insertHistory(ctx context.Context, tx Tx, query string, change interface{}) error {
	now := time.Now().UTC()
	switch c := change.(type) {
	case *models.PaymentStatusChange:
		c.ID = newID()
		c.Created = now
	case *models.OrderStatusChange:
		c.ID = newID()
		c.Created = now
	}

	if _, err := tx.NamedExecContext(ctx, query, change); err != nil {
		return errors.Wrap(err, "failed inserting status history")
	}
	return nil
}

func (db *DB) GetPaymentByOrderRef(ctx context.Context, orderRef string) (*models.Payment, error) {
	var payment models.Payment
	if err := db.GetContext(ctx, &payment, db.Rebind(getPaymentByOrderRef), orderRef); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (db *DB) GetPendingPayment(ctx context.Context, userID int, amount int64) (*models.Payment, error) {
	var payment models.Payment
	err := db.GetContext(ctx, &payment, db.Rebind(getPaymentByPendingKey), models.PendingKeyFor(userID, amount))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (db *DB) GetPayments(ctx context.Context, opts *models.GetPaymentsOpts) ([]models.Payment, error) {
	var (
		where []string
		args  []interface{}
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.CreatedFrom != "" {
		from, err := time.Parse(ConstLayoutDate, opts.CreatedFrom)
		if err != nil {
			return nil, errors.Wrap(err, "failed parsing created_from")
		}
		where = append(where, "created_at >= ?")
		args = append(args, from)
	}
	if opts.CreatedTo != "" {
		to, err := time.Parse(ConstLayoutDate, opts.CreatedTo)
		if err != nil {
			return nil, errors.Wrap(err, "failed parsing created_to")
		}
		where = append(where, "created_at < ?")
		args = append(args, to.AddDate(0, 0, 1))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT" + paymentColumns + "\n\tFROM\n\t\tpayments"
	if len(where) > 0 {
		query += "\n\tWHERE\n\t\t" + strings.Join(where, " AND\n\t\t")
	}
	query += "\n\tORDER BY\n\t\tcreated_at DESC\n\tLIMIT ?"
	args = append(args, limit)

	payments := []models.Payment{}
	if err := db.SelectContext(ctx, &payments, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return payments, nil
}

func (db *DB) GetStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := db.SelectContext(ctx, &payments, db.Rebind(getStalePendingPayments), models.PaymentPending, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (db *DB) GetPaymentHistory(ctx context.Context, orderRef string) ([]models.PaymentStatusChange, error) {
	history := []models.PaymentStatusChange{}
	if err := db.SelectContext(ctx, &history, db.Rebind(getPaymentHistory), orderRef); err != nil {
		return nil, err
	}
	return history, nil
}
