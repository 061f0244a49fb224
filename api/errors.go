package api

import (
	"net/http"

	"bitbucket.org/parqueoasis/payments/gateway"
	"bitbucket.org/parqueoasis/payments/middlewares"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
)

// writeError maps the error taxonomy of the checkout and reconcile packages to HTTP.
func writeError(w *middlewares.ResponseWriter, err error) {
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		w.WriteJSON(http.StatusBadRequest, map[string][]string{vErr.Field: {vErr.Message}}, err, middlewares.Messages.FailedValidations)
		return
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Definitive() {
		w.WriteJSON(http.StatusUnprocessableEntity, map[string]string{
			"error":   middlewares.Messages.GatewayRejected,
			"code":    gwErr.Code,
			"message": gwErr.Message,
		}, err, "")
		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		w.WriteJSON(http.StatusNotFound, nil, err, middlewares.Messages.PaymentNotFound)
	case errors.Is(err, models.ErrForbidden):
		w.WriteJSON(http.StatusForbidden, nil, err, middlewares.Messages.NotOwner)
	case errors.Is(err, models.ErrIllegalTransition):
		w.WriteJSON(http.StatusConflict, nil, err, middlewares.Messages.IllegalTransition)
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, gateway.ErrUnavailable), gwErr != nil:
		w.WriteJSON(http.StatusServiceUnavailable, nil, err, middlewares.Messages.GatewayUnavailable)
	default:
		w.WriteJSON(http.StatusInternalServerError, nil, err, middlewares.Messages.InternalServerError)
	}
}
