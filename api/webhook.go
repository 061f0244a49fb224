package api

import (
	"io"
	"io/ioutil"
	"net/http"

	"bitbucket.org/parqueoasis/payments/config"
	"bitbucket.org/parqueoasis/payments/middlewares"
	"bitbucket.org/parqueoasis/payments/webhook"
	log "github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// PaymentWebhook always answers 200 so the gateway stops redelivering; what happened is in webhook_events.
func PaymentWebhook(ctx *config.AppContext, w *middlewares.ResponseWriter, r *http.Request) {
	logger := middlewares.GetLogger(r.Context())
	body, err := ioutil.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	defer r.Body.Close()
	if err != nil {
		logger.WithField("error", err).Error("failed reading webhook body")
		w.WriteJSON(http.StatusOK, map[string]bool{"received": true}, nil, "")
		return
	}

	result := ctx.Webhooks.Ingest(r.Context(), body, r.Header.Get(webhook.SignatureHeader))
	logger.WithFields(log.Fields{
		"event_id":  result.EventID,
		"status":    result.Status,
		"duplicate": result.Duplicate,
	}).Info("webhook processed")

	w.WriteJSON(http.StatusOK, map[string]bool{"received": true}, nil, "")
}
