package api

import (
	"net/http"

	"bitbucket.org/parqueoasis/payments/config"
	"bitbucket.org/parqueoasis/payments/middlewares"
	"bitbucket.org/parqueoasis/payments/server"
)

// HealthcheckHandler indicates the service's healthy
func HealthcheckHandler(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	if ctx.SQLConn != nil {
		if err := ctx.SQLConn.PingContext(r.Context()); err != nil {
			w.WriteJSON(http.StatusServiceUnavailable, nil, err, "database unreachable")
			return
		}
	}
	w.String(http.StatusOK, "OK")
}

// GetRoutes ...
func GetRoutes() []*server.Route {
	return []*server.Route{
		{Path: "/healthcheck", Methods: []string{"GET", "HEAD"}, Handler: HealthcheckHandler, IsProtected: false},

		// Payment
		{Path: "/payment/prepare", Methods: []string{"POST"}, Handler: PreparePayment, IsProtected: true},
		{Path: "/payment/prepare", Methods: []string{"PUT"}, Handler: AbandonPayment, IsProtected: true},
		{Path: "/payment/confirm", Methods: []string{"POST"}, Handler: ConfirmPayment, IsProtected: true},
		{Path: "/payment/cancel", Methods: []string{"POST"}, Handler: CancelPayment, IsProtected: true},
		{Path: "/payment/webhook", Methods: []string{"POST"}, Handler: PaymentWebhook, IsProtected: false},
		{Path: "/payment/reconcile", Methods: []string{"POST"}, Handler: ReconcilePayments, IsProtected: true},
		{Path: "/payment", Methods: []string{"GET", "HEAD"}, Handler: GetPayments, IsProtected: true},
		{Path: "/payment/{order_ref}", Methods: []string{"GET", "HEAD"}, Handler: GetPayment, IsProtected: true},

		// Order
		{Path: "/order/{id}/status", Methods: []string{"PUT"}, Handler: UpdateOrderStatus, IsProtected: true},
	}
}
