package models

import "time"

type SignalSource string

const (
	SourceSync     SignalSource = "sync"
	SourceWebhook  SignalSource = "webhook"
	SourceSweep    SignalSource = "sweep"
	SourceClient   SignalSource = "client"
	SourceOperator SignalSource = "operator"
)

// ConfirmationSignal asserts that OrderRef should be checked against the gateway.
// ClaimedAmount zero on a non-sync signal claims the stored amount. UserID zero skips the ownership check.
type ConfirmationSignal struct {
	OrderRef      string
	GatewayToken  string
	ClaimedAmount int64
	Source        SignalSource
	UserID        int
}

type Outcome struct {
	OrderRef   string        `json:"order_ref"`
	Status     PaymentStatus `json:"status"`
	ApprovedAt *time.Time    `json:"approved_at,omitempty"`
	CanceledAt *time.Time    `json:"canceled_at,omitempty"`
	FailReason string        `json:"fail_reason,omitempty"`
	// Replayed is set when the payment was already terminal and nothing changed.
	Replayed bool `json:"-"`
	// Unknown is set when the gateway outcome could not be determined.
	Unknown bool `json:"-"`
}

func OutcomeOf(p *Payment) *Outcome {
	o := &Outcome{
		OrderRef:   p.OrderRef,
		Status:     p.Status,
		ApprovedAt: p.ApprovedAt,
		CanceledAt: p.CanceledAt,
	}
	if p.FailReason != nil {
		o.FailReason = *p.FailReason
	}
	return o
}
