package webhook

import (
	"encoding/json"

	"bitbucket.org/parqueoasis/payments/gateway"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Event is one of PaymentApproved, PaymentCanceled, PaymentFailed, DepositCallback or Unknown.
type Event interface {
	OrderRef() string
	event()
}

type PaymentApproved struct {
	Ref          string
	GatewayToken string
	Amount       int64
}

type PaymentCanceled struct {
	Ref          string
	GatewayToken string
	Reason       string
}

type PaymentFailed struct {
	Ref          string
	GatewayToken string
	Reason       string
}

type DepositCallback struct {
	Ref    string
	Status string
}

type Unknown struct {
	Ref       string
	EventType string
	Status    string
}

func (e PaymentApproved) OrderRef() string { return e.Ref }
func (e PaymentCanceled) OrderRef() string { return e.Ref }
func (e PaymentFailed) OrderRef() string   { return e.Ref }
func (e DepositCallback) OrderRef() string { return e.Ref }
func (e Unknown) OrderRef() string         { return e.Ref }

func (PaymentApproved) event() {}
func (PaymentCanceled) event() {}
func (PaymentFailed) event()   {}
func (DepositCallback) event() {}
func (Unknown) event()         {}

const (
	typeApproved       = "payment.approved"
	typeCanceled       = "payment.canceled"
	typeFailed         = "payment.failed"
	typeDeposit        = "deposit.callback"
	typeStatusChanged  = "PAYMENT_STATUS_CHANGED"
	typeDepositGateway = "DEPOSIT_CALLBACK"
)

// Classify parses a webhook body. Only malformed JSON is an error: anything well formed but not
// understood becomes Unknown.
func Classify(body []byte) (models.WebhookEnvelope, Event, error) {
	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return envelope, nil, errors.Wrap(err, "malformed webhook body")
	}

	// deposit callbacks may arrive flat, without a data object
	raw := []byte(envelope.Data)
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return envelope, nil, errors.Wrap(err, "malformed webhook data")
	}
	var data models.WebhookData
	if err := mapstructure.Decode(fields, &data); err != nil {
		return envelope, nil, errors.Wrap(err, "failed decoding webhook data")
	}

	eventType := envelope.EventType
	if eventType == typeStatusChanged {
		eventType = statusEventType(gateway.Status(data.Status))
	}

	unknown := Unknown{Ref: data.OrderRef, EventType: envelope.EventType, Status: data.Status}
	if data.OrderRef == "" {
		return envelope, unknown, nil
	}

	switch eventType {
	case typeApproved:
		return envelope, PaymentApproved{Ref: data.OrderRef, GatewayToken: data.GatewayToken, Amount: data.Amount}, nil
	case typeCanceled:
		return envelope, PaymentCanceled{Ref: data.OrderRef, GatewayToken: data.GatewayToken, Reason: data.Reason}, nil
	case typeFailed:
		return envelope, PaymentFailed{Ref: data.OrderRef, GatewayToken: data.GatewayToken, Reason: data.Reason}, nil
	case typeDeposit, typeDepositGateway:
		return envelope, DepositCallback{Ref: data.OrderRef, Status: data.Status}, nil
	}
	return envelope, unknown, nil
}

func statusEventType(status gateway.Status) string {
	switch status {
	case gateway.StatusDone:
		return typeApproved
	case gateway.StatusCanceled, gateway.StatusPartialCanceled:
		return typeCanceled
	case gateway.StatusAborted, gateway.StatusExpired:
		return typeFailed
	case gateway.StatusWaitingForDeposit:
		return typeDeposit
	}
	return typeStatusChanged
}
