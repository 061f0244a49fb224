package models

import (
	"encoding/json"
	"time"
)

type WebhookEventStatus string

const (
	WebhookReceived     WebhookEventStatus = "received"
	WebhookHandled      WebhookEventStatus = "handled"
	WebhookHandleFailed WebhookEventStatus = "handle_failed"
	WebhookRejected     WebhookEventStatus = "rejected"
)

// WebhookEnvelope is the body the gateway posts to /payment/webhook.
type WebhookEnvelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	CreatedAt string          `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// WebhookData is the union of fields the gateway sends across event types.
type WebhookData struct {
	OrderRef     string `json:"orderId" mapstructure:"orderId"`
	GatewayToken string `json:"paymentKey" mapstructure:"paymentKey"`
	Status       string `json:"status" mapstructure:"status"`
	Amount       int64  `json:"totalAmount" mapstructure:"totalAmount"`
	Reason       string `json:"reason" mapstructure:"reason"`
}

type WebhookEvent struct {
	ID          string             `json:"id" db:"id"`
	DeliveryKey string             `json:"delivery_key" db:"delivery_key"`
	EventType   string             `json:"event_type" db:"event_type"`
	OrderRef    *string            `json:"order_ref,omitempty" db:"order_ref"`
	Payload     string             `json:"payload" db:"payload"`
	Status      WebhookEventStatus `json:"status" db:"status"`
	Error       *string            `json:"error,omitempty" db:"error"`
	ReceivedAt  time.Time          `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty" db:"processed_at"`
}
