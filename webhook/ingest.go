// Package webhook authenticates, records and dispatches gateway webhook deliveries. Every delivery is
// acknowledged. Failures are kept in the webhook_events log and raised to operators instead of being
// surfaced to the gateway.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"bitbucket.org/parqueoasis/payments/cache"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const SignatureHeader = "X-Gateway-Signature"

type Engine interface {
	Reconcile(ctx context.Context, sig models.ConfirmationSignal) (*models.Outcome, error)
	SyncCancellation(ctx context.Context, orderRef string, source models.SignalSource) (*models.Outcome, error)
}

type EventLog interface {
	InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	UpdateWebhookEventStatus(ctx context.Context, id string, status models.WebhookEventStatus, orderRef string, errMsg string) error
}

type Alerter interface {
	Alert(subject string, fields map[string]interface{}) error
}

// Result describes what happened to one delivery. The HTTP answer does not depend on it.
type Result struct {
	EventID   string
	Status    models.WebhookEventStatus
	Duplicate bool
	Outcome   *models.Outcome
}

type Ingestor struct {
	secret []byte
	engine Engine
	events EventLog
	dedup  cache.Dedup
	alerts Alerter
	logger *log.Entry
}

func NewIngestor(secret string, engine Engine, events EventLog, dedup cache.Dedup, alerts Alerter) *Ingestor {
	if dedup == nil {
		dedup = cache.Noop{}
	}
	return &Ingestor{
		secret: []byte(secret),
		engine: engine,
		events: events,
		dedup:  dedup,
		alerts: alerts,
		logger: log.WithField("component", "webhook"),
	}
}

// Sign returns the hex HMAC-SHA256 the gateway puts in X-Gateway-Signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (i *Ingestor) authentic(body []byte, signature string) bool {
	if len(i.secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(i.secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.WithField("panic", r).Error("webhook handling panicked")
			i.alert("webhook handling panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			result.Status = models.WebhookHandleFailed
		}
	}()

	event := &models.WebhookEvent{
		Payload:    string(body),
		Status:     models.WebhookReceived,
		ReceivedAt: time.Now().UTC(),
	}

	if !i.authentic(body, signature) {
		event.Status = models.WebhookRejected
		event.DeliveryKey = bodyHash(body)
		event.Error = strPtr("signature verification failed")
		i.record(ctx, event)
		i.logger.WithField("delivery_key", event.DeliveryKey).Error("webhook signature rejected")
		i.alert("webhook signature rejected", map[string]interface{}{"delivery_key": event.DeliveryKey})
		return Result{EventID: event.ID, Status: event.Status}
	}

	envelope, classified, err := Classify(body)
	event.EventType = envelope.EventType
	event.DeliveryKey = envelope.EventID
	if event.DeliveryKey == "" {
		event.DeliveryKey = bodyHash(body)
	}
	if err != nil {
		event.Status = models.WebhookHandleFailed
		event.Error = strPtr(err.Error())
		i.record(ctx, event)
		i.logger.WithField("error", err).Error("unreadable webhook")
		i.alert("unreadable webhook", map[string]interface{}{"delivery_key": event.DeliveryKey, "error": err.Error()})
		return Result{EventID: event.ID, Status: event.Status}
	}
	if ref := classified.OrderRef(); ref != "" {
		event.OrderRef = &ref
	}
	i.record(ctx, event)

	logger := i.logger.WithFields(log.Fields{
		"delivery_key": event.DeliveryKey,
		"event_type":   event.EventType,
		"order_ref":    classified.OrderRef(),
	})

	if seen, err := i.dedup.Seen(ctx, event.DeliveryKey); err != nil {
		logger.WithField("error", err).Warn("dedup lookup failed, processing delivery")
	} else if seen {
		logger.Info("duplicate webhook delivery")
		i.finish(ctx, event, models.WebhookHandled, "duplicate delivery")
		return Result{EventID: event.ID, Status: models.WebhookHandled, Duplicate: true}
	}

	outcome, err := i.dispatch(ctx, classified, logger)
	if err != nil {
		logger.WithField("error", err).Error("webhook dispatch failed")
		i.alert("webhook dispatch failed", map[string]interface{}{
			"delivery_key": event.DeliveryKey,
			"order_ref":    classified.OrderRef(),
			"error":        err.Error(),
		})
		i.finish(ctx, event, models.WebhookHandleFailed, err.Error())
		return Result{EventID: event.ID, Status: models.WebhookHandleFailed}
	}

	if outcome != nil && !outcome.Unknown && outcome.Status.IsTerminal() {
		if err := i.dedup.Mark(ctx, event.DeliveryKey); err != nil {
			logger.WithField("error", err).Warn("failed remembering webhook delivery")
		}
	}

	i.finish(ctx, event, models.WebhookHandled, "")
	return Result{EventID: event.ID, Status: models.WebhookHandled, Outcome: outcome}
}

func (i *Ingestor) dispatch(ctx context.Context, classified Event, logger *log.Entry) (*models.Outcome, error) {
	switch e := classified.(type) {
	case PaymentApproved:
		return i.engine.Reconcile(ctx, models.ConfirmationSignal{
			OrderRef:      e.Ref,
			GatewayToken:  e.GatewayToken,
			ClaimedAmount: e.Amount,
			Source:        models.SourceWebhook,
		})
	case PaymentFailed:
		// read the gateway record instead of re-confirming
		return i.engine.Reconcile(ctx, models.ConfirmationSignal{OrderRef: e.Ref, Source: models.SourceWebhook})
	case DepositCallback:
		return i.engine.Reconcile(ctx, models.ConfirmationSignal{OrderRef: e.Ref, Source: models.SourceWebhook})
	case PaymentCanceled:
		return i.engine.SyncCancellation(ctx, e.Ref, models.SourceWebhook)
	case Unknown:
		logger.WithField("status", e.Status).Info("ignoring unrecognized webhook")
		return nil, nil
	}
	return nil, errors.Errorf("unhandled webhook event %T", classified)
}

func (i *Ingestor) record(ctx context.Context, event *models.WebhookEvent) {
	if err := i.events.InsertWebhookEvent(ctx, event); err != nil {
		i.logger.WithFields(log.Fields{
			"delivery_key": event.DeliveryKey,
			"error":        err,
		}).Error("failed recording webhook event")
	}
}

func (i *Ingestor) finish(ctx context.Context, event *models.WebhookEvent, status models.WebhookEventStatus, errMsg string) {
	if event.ID == "" {
		return
	}
	orderRef := ""
	if event.OrderRef != nil {
		orderRef = *event.OrderRef
	}
	if err := i.events.UpdateWebhookEventStatus(ctx, event.ID, status, orderRef, errMsg); err != nil {
		i.logger.WithFields(log.Fields{
			"event_id": event.ID,
			"error":    err,
		}).Error("failed updating webhook event")
	}
}

func (i *Ingestor) alert(subject string, fields map[string]interface{}) {
	if i.alerts == nil {
		return
	}
	if err := i.alerts.Alert(subject, fields); err != nil {
		i.logger.WithField("error", err).Error("failed sending operator alert")
	}
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func strPtr(s string) *string {
	return &s
}
