package reconcile

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"bitbucket.org/parqueoasis/payments/db"
	"bitbucket.org/parqueoasis/payments/gateway"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
)

// memLedger keeps payments and orders in memory with one mutex per orderRef, standing in for
// SELECT ... FOR UPDATE.
type memLedger struct {
	mu         sync.Mutex
	records    map[string]*memRecord
	failCommit bool
}

type memRecord struct {
	lock    sync.Mutex
	payment models.Payment
	orders  []models.Order
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]*memRecord{}}
}

func (l *memLedger) seed(p models.Payment, sellers ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	rec := &memRecord{payment: p}
	for _, seller := range sellers {
		rec.orders = append(rec.orders, models.Order{
			ID:       p.OrderRef + "-" + seller,
			OrderRef: p.OrderRef,
			SellerID: seller,
			Amount:   p.Amount / int64(len(sellers)),
			Status:   models.OrderPending,
		})
	}
	l.records[p.OrderRef] = rec
}

func (l *memLedger) setOrderStatus(orderRef string, status models.OrderStatus) {
	l.mu.Lock()
	rec := l.records[orderRef]
	l.mu.Unlock()

	rec.lock.Lock()
	defer rec.lock.Unlock()
	for i := range rec.orders {
		rec.orders[i].Status = status
	}
}

// snapshot returns committed state only.
func (l *memLedger) snapshot(orderRef string) (models.Payment, []models.Order) {
	l.mu.Lock()
	rec := l.records[orderRef]
	l.mu.Unlock()

	rec.lock.Lock()
	defer rec.lock.Unlock()
	orders := append([]models.Order(nil), rec.orders...)
	return rec.payment, orders
}

func (l *memLedger) LockPayment(ctx context.Context, orderRef string) (db.PaymentTx, error) {
	l.mu.Lock()
	rec, ok := l.records[orderRef]
	l.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "payment %s", orderRef)
	}

	rec.lock.Lock()
	payment := rec.payment
	return &memTx{
		ctx:     ctx,
		ledger:  l,
		rec:     rec,
		payment: &payment,
		orders:  append([]models.Order(nil), rec.orders...),
	}, nil
}

func (l *memLedger) GetStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.Payment
	for _, rec := range l.records {
		rec.lock.Lock()
		if rec.payment.Status == models.PaymentPending && rec.payment.Created.Before(olderThan) {
			out = append(out, rec.payment)
		}
		rec.lock.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderRef < out[j].OrderRef })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	ctx     context.Context
	ledger  *memLedger
	rec     *memRecord
	payment *models.Payment
	orders  []models.Order
	done    bool
}

func (t *memTx) Payment() *models.Payment { return t.payment }

func (t *memTx) Orders() []models.Order { return t.orders }

func (t *memTx) Complete(gatewayToken string, approvedAt time.Time, source models.SignalSource) error {
	if err := t.move(models.PaymentCompleted, models.OrderConfirmed); err != nil {
		return err
	}
	t.payment.GatewayToken = &gatewayToken
	t.payment.ApprovedAt = &approvedAt
	t.payment.PendingKey = nil
	return nil
}

func (t *memTx) Fail(reason string, source models.SignalSource) error {
	if err := t.move(models.PaymentFailed, models.OrderFailed); err != nil {
		return err
	}
	t.payment.FailReason = &reason
	t.payment.PendingKey = nil
	return nil
}

func (t *memTx) Cancel(reason string, canceledAt time.Time, source models.SignalSource) error {
	if err := t.move(models.PaymentCanceled, models.OrderCanceled); err != nil {
		return err
	}
	t.payment.CancelReason = &reason
	t.payment.CanceledAt = &canceledAt
	return nil
}

func (t *memTx) move(payment models.PaymentStatus, order models.OrderStatus) error {
	if !t.payment.Status.CanTransitionTo(payment) {
		return errors.Wrapf(models.ErrIllegalTransition, "%s -> %s", t.payment.Status, payment)
	}
	for _, o := range t.orders {
		if !o.Status.CanTransitionTo(order) {
			return errors.Wrapf(models.ErrIllegalTransition, "order %s -> %s", o.Status, order)
		}
	}
	t.payment.Status = payment
	for i := range t.orders {
		t.orders[i].Status = order
	}
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.rec.lock.Unlock()

	if t.ledger.failCommit {
		return errors.Wrap(models.ErrPersistence, "injected commit failure")
	}
	// database/sql rolls a transaction back once its context is done.
	if err := t.ctx.Err(); err != nil {
		return errors.Wrap(models.ErrPersistence, err.Error())
	}
	t.rec.payment = *t.payment
	t.rec.orders = t.orders
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.rec.lock.Unlock()
	return nil
}

// fakeGateway records calls and answers from overridable funcs.
type fakeGateway struct {
	confirmCalls int32
	cancelCalls  int32
	lookupCalls  int32

	confirmDelay time.Duration
	confirmFn    func(orderRef, token string, amount int64) (*gateway.Confirmation, error)
	cancelFn     func(token, reason string) (*gateway.Cancellation, error)
	lookupFn     func(orderRef string) (*gateway.Confirmation, error)
}

func approveAll(reportedAmount int64) func(orderRef, token string, amount int64) (*gateway.Confirmation, error) {
	return func(orderRef, token string, amount int64) (*gateway.Confirmation, error) {
		approvedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		return &gateway.Confirmation{
			PaymentKey:  token,
			OrderID:     orderRef,
			Status:      gateway.StatusDone,
			TotalAmount: reportedAmount,
			ApprovedAt:  &approvedAt,
		}, nil
	}
}

func (g *fakeGateway) Confirm(ctx context.Context, orderRef, token string, amount int64) (*gateway.Confirmation, error) {
	atomic.AddInt32(&g.confirmCalls, 1)
	if g.confirmDelay > 0 {
		time.Sleep(g.confirmDelay)
	}
	return g.confirmFn(orderRef, token, amount)
}

func (g *fakeGateway) Cancel(ctx context.Context, token, reason string) (*gateway.Cancellation, error) {
	atomic.AddInt32(&g.cancelCalls, 1)
	if g.cancelFn == nil {
		return &gateway.Cancellation{PaymentKey: token, Status: gateway.StatusCanceled, Reason: reason, CanceledAt: time.Now()}, nil
	}
	return g.cancelFn(token, reason)
}

func (g *fakeGateway) Lookup(ctx context.Context, orderRef string) (*gateway.Confirmation, error) {
	atomic.AddInt32(&g.lookupCalls, 1)
	if g.lookupFn == nil {
		return nil, &gateway.Error{StatusCode: 404, Code: "NOT_FOUND_PAYMENT", Message: "not found"}
	}
	return g.lookupFn(orderRef)
}

func (g *fakeGateway) confirms() int { return int(atomic.LoadInt32(&g.confirmCalls)) }

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) Alert(subject string, fields map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentStatus
}

func (p *recordingPublisher) Publish(ctx context.Context, payment models.Payment, source models.SignalSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payment.Status)
	return nil
}
