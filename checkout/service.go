// Package checkout turns a priced cart into a PENDING payment and its order group.
package checkout

import (
	"context"

	"bitbucket.org/parqueoasis/payments/cart"
	"bitbucket.org/parqueoasis/payments/db"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultMinAmount int64 = 100

type Store interface {
	GetPendingPayment(ctx context.Context, userID int, amount int64) (*models.Payment, error)
	InsertCheckout(ctx context.Context, opts *db.InsertCheckoutOpts) (*models.Payment, error)
}

type PrepareRequest struct {
	UserID  int
	Amount  int64
	Method  models.PaymentMethod
	CartRef string
}

type Service struct {
	store     Store
	carts     cart.Snapshotter
	minAmount int64
	newRef    func() string
	logger    *log.Entry
}

func NewService(store Store, carts cart.Snapshotter, minAmount int64) *Service {
	if minAmount <= 0 {
		minAmount = DefaultMinAmount
	}
	if carts == nil {
		carts = cart.SingleLine{}
	}
	return &Service{
		store:     store,
		carts:     carts,
		minAmount: minAmount,
		newRef:    shortuuid.New,
		logger:    log.WithField("component", "checkout"),
	}
}

// Prepare returns the orderRef the client hands to the gateway widget. A second call for the same user
// and amount while the first is still PENDING returns the same orderRef.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (*models.PreparePaymentResponse, error) {
	if req.Amount < s.minAmount {
		return nil, models.NewValidationError("amount", "must be at least %d", s.minAmount)
	}
	if !req.Method.Valid() {
		return nil, models.NewValidationError("method", "unknown payment method %q", req.Method)
	}
	if req.CartRef == "" {
		return nil, models.NewValidationError("cart_ref", "is required")
	}

	logger := s.logger.WithFields(log.Fields{
		"user_id": req.UserID,
		"amount":  req.Amount,
	})

	pending, err := s.store.GetPendingPayment(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, errors.Wrap(models.ErrPersistence, err.Error())
	}
	if pending != nil {
		logger.WithField("order_ref", pending.OrderRef).Info("reusing pending payment")
		return &models.PreparePaymentResponse{OrderRef: pending.OrderRef, Reused: true}, nil
	}

	snapshot, err := s.carts.Snapshot(ctx, req.CartRef, req.UserID, req.Amount)
	if err != nil {
		if errors.Is(err, cart.ErrCartNotFound) {
			return nil, models.NewValidationError("cart_ref", "cart %s not found", req.CartRef)
		}
		return nil, err
	}
	if len(snapshot.Lines) == 0 {
		return nil, models.NewValidationError("cart_ref", "cart %s is empty", req.CartRef)
	}
	if total := snapshot.Total(); total != req.Amount {
		return nil, models.NewValidationError("amount", "does not match cart total %d", total)
	}

	orderRef := s.newRef()
	_, err = s.store.InsertCheckout(ctx, &db.InsertCheckoutOpts{
		OrderRef: orderRef,
		UserID:   req.UserID,
		Amount:   req.Amount,
		Method:   req.Method,
		CartRef:  req.CartRef,
		Lines:    snapshot.Lines,
	})
	if errors.Is(err, db.ErrDuplicate) {
		// a concurrent prepare for the same user and amount won the pending_key
		winner, getErr := s.store.GetPendingPayment(ctx, req.UserID, req.Amount)
		if getErr != nil {
			return nil, errors.Wrap(models.ErrPersistence, getErr.Error())
		}
		if winner == nil {
			return nil, errors.Wrap(models.ErrPersistence, "pending payment vanished after duplicate insert")
		}
		logger.WithField("order_ref", winner.OrderRef).Info("concurrent prepare won, reusing its payment")
		return &models.PreparePaymentResponse{OrderRef: winner.OrderRef, Reused: true}, nil
	}
	if err != nil {
		return nil, errors.Wrap(models.ErrPersistence, err.Error())
	}

	logger.WithFields(log.Fields{
		"order_ref": orderRef,
		"orders":    len(snapshot.Lines),
	}).Info("checkout prepared")
	return &models.PreparePaymentResponse{OrderRef: orderRef}, nil
}
