// Package reconcile owns every status transition of a Payment and its Orders after checkout.
// Sync confirmation, webhooks, cancellation and the sweep all enter here, and each one takes the
// payment row lock before deciding anything.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/parqueoasis/payments/db"
	"bitbucket.org/parqueoasis/payments/gateway"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// codeAlreadyProcessed is what the gateway answers when confirm is repeated for an approved payment.
const codeAlreadyProcessed = "ALREADY_PROCESSED_PAYMENT"

// defaultTxTimeout bounds a ledger transaction, including the gateway call made while it holds the lock.
const defaultTxTimeout = time.Minute

type Ledger interface {
	LockPayment(ctx context.Context, orderRef string) (db.PaymentTx, error)
}

type Gateway interface {
	Confirm(ctx context.Context, orderRef, gatewayToken string, amount int64) (*gateway.Confirmation, error)
	Cancel(ctx context.Context, gatewayToken, reason string) (*gateway.Cancellation, error)
	Lookup(ctx context.Context, orderRef string) (*gateway.Confirmation, error)
}

type Alerter interface {
	Alert(subject string, fields map[string]interface{}) error
}

type Publisher interface {
	Publish(ctx context.Context, payment models.Payment, source models.SignalSource) error
}

type Engine struct {
	ledger    Ledger
	gateway   Gateway
	alerts    Alerter
	publisher Publisher
	logger    *log.Entry
	now       func() time.Time
	txTimeout time.Duration
}

type Option func(*Engine)

func WithAlerter(a Alerter) Option {
	return func(e *Engine) {
		e.alerts = a
	}
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithTxTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.txTimeout = d
	}
}

func New(ledger Ledger, gw Gateway, opts ...Option) *Engine {
	e := &Engine{
		ledger:  ledger,
		gateway: gw,
		logger:    log.WithField("component", "reconcile"),
		now:       time.Now,
		txTimeout: defaultTxTimeout,
	}
	for _, With := range opts {
		With(e)
	}
	return e
}

// Reconcile brings one payment into agreement with the gateway. A terminal payment is returned
// as is, without contacting the gateway. A gateway timeout leaves the payment PENDING.
func (e *Engine) Reconcile(ctx context.Context, sig models.ConfirmationSignal) (*models.Outcome, error) {
	if sig.OrderRef == "" {
		return nil, models.NewValidationError("order_ref", "is required")
	}
	if sig.Source == models.SourceSync && sig.GatewayToken == "" {
		return nil, models.NewValidationError("gateway_token", "is required")
	}
	if sig.ClaimedAmount < 0 || (sig.Source == models.SourceSync && sig.ClaimedAmount == 0) {
		return nil, models.NewValidationError("amount", "must be a positive integer")
	}

	logger := e.logger.WithFields(log.Fields{
		"order_ref": sig.OrderRef,
		"source":    sig.Source,
	})

	txCtx, cancel := e.ledgerContext(ctx)
	defer cancel()
	ptx, err := e.ledger.LockPayment(txCtx, sig.OrderRef)
	if err != nil {
		return nil, err
	}
	defer ptx.Rollback()

	payment := ptx.Payment()
	if sig.UserID != 0 && payment.UserID != sig.UserID {
		return nil, errors.Wrapf(models.ErrForbidden, "payment %s", sig.OrderRef)
	}

	if payment.Status.IsTerminal() {
		logger.WithField("status", payment.Status).Info("payment already terminal, replaying result")
		return replay(payment), nil
	}

	claimed := sig.ClaimedAmount
	if claimed == 0 {
		claimed = payment.Amount
	}

	conf, err := e.verify(ctx, payment, sig.GatewayToken, claimed)
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && gwErr.Definitive() && sig.GatewayToken != "" {
			logger.WithFields(log.Fields{
				"code":    gwErr.Code,
				"message": gwErr.Message,
			}).Warn("gateway rejected payment")
			return e.fail(ctx, ptx, fmt.Sprintf("%s: %s", gwErr.Code, gwErr.Message), sig.Source)
		}

		logger.WithField("error", err).Warn("gateway outcome unknown, leaving payment pending")
		return &models.Outcome{OrderRef: payment.OrderRef, Status: models.PaymentPending, Unknown: true}, nil
	}

	switch conf.Status {
	case gateway.StatusDone:
	case gateway.StatusAborted, gateway.StatusExpired, gateway.StatusCanceled, gateway.StatusPartialCanceled:
		return e.fail(ctx, ptx, fmt.Sprintf("gateway reported %s", conf.Status), sig.Source)
	default:
		logger.WithField("gateway_status", conf.Status).Info("payment not final at gateway")
		return &models.Outcome{OrderRef: payment.OrderRef, Status: models.PaymentPending}, nil
	}

	if conf.OrderID != "" && conf.OrderID != payment.OrderRef {
		return e.rejectTampered(ctx, ptx, logger, "order reference mismatch", log.Fields{
			"gateway_order_ref": conf.OrderID,
		}, sig.Source)
	}
	if claimed != conf.TotalAmount || payment.Amount != conf.TotalAmount {
		return e.rejectTampered(ctx, ptx, logger, models.ErrAmountMismatch.Error(), log.Fields{
			"claimed_amount": claimed,
			"stored_amount":  payment.Amount,
			"gateway_amount": conf.TotalAmount,
		}, sig.Source)
	}

	token := conf.PaymentKey
	if token == "" {
		token = sig.GatewayToken
	}
	approvedAt := e.now()
	if conf.ApprovedAt != nil {
		approvedAt = *conf.ApprovedAt
	}

	if err := ptx.Complete(token, approvedAt, sig.Source); err != nil {
		return nil, err
	}
	if err := ptx.Commit(); err != nil {
		return nil, err
	}

	logger.WithField("amount", payment.Amount).Info("payment completed")
	e.publish(ctx, payment, sig.Source)
	return models.OutcomeOf(payment), nil
}

// verify asks the gateway for its authoritative record. Without a token the record can only be read.
func (e *Engine) verify(ctx context.Context, payment *models.Payment, token string, amount int64) (*gateway.Confirmation, error) {
	if token == "" {
		return e.gateway.Lookup(ctx, payment.OrderRef)
	}

	conf, err := e.gateway.Confirm(ctx, payment.OrderRef, token, amount)
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Code == codeAlreadyProcessed {
		e.logger.WithField("order_ref", payment.OrderRef).Info("payment already approved at gateway, reading record")
		conf, err = e.gateway.Lookup(ctx, payment.OrderRef)
		if err != nil {
			return nil, errors.Wrap(gateway.ErrUnavailable, err.Error())
		}
	}
	return conf, err
}

func (e *Engine) rejectTampered(ctx context.Context, ptx db.PaymentTx, logger *log.Entry, reason string, fields log.Fields, source models.SignalSource) (*models.Outcome, error) {
	logger.WithFields(fields).Error(reason)
	alertFields := map[string]interface{}{
		"order_ref": ptx.Payment().OrderRef,
		"source":    source,
	}
	for k, v := range fields {
		alertFields[k] = v
	}
	e.alert("payment "+reason, alertFields)

	return e.fail(ctx, ptx, reason, source)
}

func (e *Engine) fail(ctx context.Context, ptx db.PaymentTx, reason string, source models.SignalSource) (*models.Outcome, error) {
	if err := ptx.Fail(reason, source); err != nil {
		return nil, err
	}
	if err := ptx.Commit(); err != nil {
		return nil, err
	}

	payment := ptx.Payment()
	e.logger.WithFields(log.Fields{
		"order_ref":   payment.OrderRef,
		"source":      source,
		"fail_reason": reason,
	}).Info("payment failed")
	e.publish(ctx, payment, source)
	return models.OutcomeOf(payment), nil
}

func (e *Engine) publish(ctx context.Context, payment *models.Payment, source models.SignalSource) {
	if e.publisher == nil {
		return
	}
	// TODO: write outcome events to an outbox table in the same transaction instead of after commit.
	if err := e.publisher.Publish(ctx, *payment, source); err != nil {
		e.logger.WithFields(log.Fields{
			"order_ref": payment.OrderRef,
			"error":     err,
		}).Error("failed publishing payment event")
	}
}

func (e *Engine) alert(subject string, fields map[string]interface{}) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Alert(subject, fields); err != nil {
		e.logger.WithField("error", err).Error("failed sending operator alert")
	}
}

// ledgerContext detaches the ledger transaction from the caller's cancellation. Once the gateway has
// approved or canceled, the matching write must commit even if the client went away.
func (e *Engine) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.txTimeout)
}

func replay(payment *models.Payment) *models.Outcome {
	out := models.OutcomeOf(payment)
	out.Replayed = true
	return out
}
