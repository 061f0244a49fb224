package api

import (
	"net/http"
	"time"

	"bitbucket.org/parqueoasis/payments/checkout"
	"bitbucket.org/parqueoasis/payments/config"
	"bitbucket.org/parqueoasis/payments/middlewares"
	"bitbucket.org/parqueoasis/payments/models"
	"bitbucket.org/parqueoasis/payments/reconcile"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/thedevsaddam/govalidator"
)

func PreparePayment(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	if userInfo.ID == 0 {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.InvalidRoles)
		return
	}

	var opts models.PreparePaymentOpts
	validatorOpts := govalidator.Options{
		Request: r,
		Rules:   models.PreparePaymentRules,
		Data:    &opts,
	}
	v := govalidator.New(validatorOpts)
	errs := v.ValidateJSON()
	if len(errs) > 0 {
		w.WriteJSON(http.StatusBadRequest, errs, nil, middlewares.Messages.FailedValidations)
		return
	}

	response, err := ctx.Checkout.Prepare(r.Context(), checkout.PrepareRequest{
		UserID:  userInfo.ID,
		Amount:  opts.Amount,
		Method:  models.PaymentMethod(opts.Method),
		CartRef: opts.CartRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteJSON(http.StatusOK, response, nil, "")
}

// AbandonPayment fails a PENDING payment the customer walked away from.
func AbandonPayment(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	if userInfo.ID == 0 {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.InvalidRoles)
		return
	}

	var opts models.AbandonPaymentOpts
	validatorOpts := govalidator.Options{
		Request: r,
		Rules:   models.AbandonPaymentRules,
		Data:    &opts,
	}
	v := govalidator.New(validatorOpts)
	errs := v.ValidateJSON()
	if len(errs) > 0 {
		w.WriteJSON(http.StatusBadRequest, errs, nil, middlewares.Messages.FailedValidations)
		return
	}

	ownerID := userInfo.ID
	if userInfo.IsAdmin {
		ownerID = 0
	}
	outcome, err := ctx.Engine.Abandon(r.Context(), opts.OrderRef, opts.FailReason, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteJSON(http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": outcome.Status,
	}, nil, "")
}

// ConfirmPayment is called by the client after the gateway redirect. Business failures and unknown
// outcomes are 200 answers carrying the payment status.
func ConfirmPayment(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	if userInfo.ID == 0 {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.InvalidRoles)
		return
	}

	var opts models.ConfirmPaymentOpts
	validatorOpts := govalidator.Options{
		Request: r,
		Rules:   models.ConfirmPaymentRules,
		Data:    &opts,
	}
	v := govalidator.New(validatorOpts)
	errs := v.ValidateJSON()
	if len(errs) > 0 {
		w.WriteJSON(http.StatusBadRequest, errs, nil, middlewares.Messages.FailedValidations)
		return
	}

	sig := models.ConfirmationSignal{
		OrderRef:      opts.OrderRef,
		GatewayToken:  opts.GatewayToken,
		ClaimedAmount: opts.Amount,
		Source:        models.SourceSync,
		UserID:        userInfo.ID,
	}
	if userInfo.IsAdmin || userInfo.IsAPI {
		sig.UserID = 0
	}

	outcome, err := ctx.Engine.Reconcile(r.Context(), sig)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteJSON(http.StatusOK, outcome, nil, "")
}

func CancelPayment(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	if userInfo.ID == 0 {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.InvalidRoles)
		return
	}

	var opts models.CancelPaymentOpts
	validatorOpts := govalidator.Options{
		Request: r,
		Rules:   models.CancelPaymentRules,
		Data:    &opts,
	}
	v := govalidator.New(validatorOpts)
	errs := v.ValidateJSON()
	if len(errs) > 0 {
		w.WriteJSON(http.StatusBadRequest, errs, nil, middlewares.Messages.FailedValidations)
		return
	}

	source := models.SourceClient
	if userInfo.IsAdmin {
		source = models.SourceOperator
	}
	outcome, err := ctx.Engine.Cancel(r.Context(), reconcile.CancelRequest{
		OrderRef: opts.OrderRef,
		Reason:   opts.Reason,
		UserID:   userInfo.ID,
		Admin:    userInfo.IsAdmin,
		Source:   source,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteJSON(http.StatusOK, outcome, nil, "")
}

type paymentDetail struct {
	Payment *models.Payment              `json:"payment"`
	Group   *models.OrderGroup           `json:"order_group"`
	History []models.PaymentStatusChange `json:"history"`
}

// GetPayment is the client's status poll.
func GetPayment(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	orderRef := mux.Vars(r)["order_ref"]

	payment, err := ctx.DB.GetPaymentByOrderRef(r.Context(), orderRef)
	if err != nil {
		w.WriteJSON(http.StatusInternalServerError, nil, err, "failed getting payment")
		return
	}
	if payment == nil {
		w.WriteJSON(http.StatusNotFound, nil, nil, middlewares.Messages.PaymentNotFound)
		return
	}
	if payment.UserID != userInfo.ID && !userInfo.IsAdmin && !userInfo.IsAPI {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.NotOwner)
		return
	}

	group, err := ctx.DB.GetOrderGroupByOrderRef(r.Context(), orderRef)
	if err != nil {
		w.WriteJSON(http.StatusInternalServerError, nil, err, "failed getting order group")
		return
	}
	history, err := ctx.DB.GetPaymentHistory(r.Context(), orderRef)
	if err != nil {
		w.WriteJSON(http.StatusInternalServerError, nil, err, "failed getting payment history")
		return
	}

	w.WriteJSON(http.StatusOK, paymentDetail{Payment: payment, Group: group, History: history}, nil, "")
}

func GetPayments(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	if !userInfo.IsAdmin {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.InvalidRoles)
		return
	}

	validatorOpts := govalidator.Options{
		Request: r,
		Rules:   models.GetPaymentsRules,
	}
	v := govalidator.New(validatorOpts)
	errs := v.Validate()
	if len(errs) > 0 {
		w.WriteJSON(http.StatusBadRequest, errs, nil, middlewares.Messages.FailedValidations)
		return
	}

	var opts models.GetPaymentsOpts
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&opts, r.URL.Query()); err != nil {
		w.WriteJSON(http.StatusBadRequest, nil, err, middlewares.Messages.FailedValidations)
		return
	}

	payments, err := ctx.DB.GetPayments(r.Context(), &opts)
	if err != nil {
		w.WriteJSON(http.StatusInternalServerError, nil, err, "failed getting payments")
		return
	}

	w.WriteJSON(http.StatusOK, payments, nil, "")
}

// ReconcilePayments runs the sweep on demand. The body is optional; config supplies the defaults.
func ReconcilePayments(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	if !userInfo.IsAdmin && !userInfo.IsAPI {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.InvalidRoles)
		return
	}

	var opts models.ReconcileSweepOpts
	if r.ContentLength > 0 {
		validatorOpts := govalidator.Options{
			Request: r,
			Rules:   models.ReconcileSweepRules,
			Data:    &opts,
		}
		v := govalidator.New(validatorOpts)
		errs := v.ValidateJSON()
		if len(errs) > 0 {
			w.WriteJSON(http.StatusBadRequest, errs, nil, middlewares.Messages.FailedValidations)
			return
		}
	}

	olderThan := ctx.Config.Sweep.OlderThan()
	if opts.OlderThanMinutes > 0 {
		olderThan = time.Duration(opts.OlderThanMinutes) * time.Minute
	}
	limit := ctx.Config.Sweep.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	report, err := ctx.Sweeper.Sweep(r.Context(), olderThan, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteJSON(http.StatusOK, report, nil, "")
}
