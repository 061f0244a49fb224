package api

import (
	"fmt"
	"net/http"

	"bitbucket.org/parqueoasis/payments/config"
	"bitbucket.org/parqueoasis/payments/middlewares"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/thedevsaddam/govalidator"
)

// UpdateOrderStatus moves one seller order forward once fulfillment starts. Payment driven
// transitions never go through here.
func UpdateOrderStatus(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	userInfo := middlewares.UserInfo(r)
	if !userInfo.IsAdmin && !userInfo.IsAPI {
		w.WriteJSON(http.StatusForbidden, nil, nil, middlewares.Messages.InvalidRoles)
		return
	}

	var opts models.UpdateOrderStatusOpts
	validatorOpts := govalidator.Options{
		Request: r,
		Rules:   models.UpdateOrderStatusRules,
		Data:    &opts,
	}
	v := govalidator.New(validatorOpts)
	errs := v.ValidateJSON()
	if len(errs) > 0 {
		w.WriteJSON(http.StatusBadRequest, errs, nil, middlewares.Messages.FailedValidations)
		return
	}

	orderID := mux.Vars(r)["id"]
	order, err := ctx.DB.UpdateOrderStatus(r.Context(), orderID, models.OrderStatus(opts.Status), fmt.Sprintf("updated by user %d", userInfo.ID))
	if errors.Is(err, models.ErrNotFound) {
		w.WriteJSON(http.StatusNotFound, nil, err, middlewares.Messages.OrderNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteJSON(http.StatusOK, order, nil, "")
}
