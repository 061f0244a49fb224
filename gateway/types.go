package gateway

import "time"

type Status string

const (
	StatusReady             Status = "READY"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusWaitingForDeposit Status = "WAITING_FOR_DEPOSIT"
	StatusDone              Status = "DONE"
	StatusCanceled          Status = "CANCELED"
	StatusPartialCanceled   Status = "PARTIAL_CANCELED"
	StatusAborted           Status = "ABORTED"
	StatusExpired           Status = "EXPIRED"
)

// Confirmation is the gateway's payment record as returned by confirm and lookup.
type Confirmation struct {
	PaymentKey  string       `json:"paymentKey"`
	OrderID     string       `json:"orderId"`
	Status      Status       `json:"status"`
	TotalAmount int64        `json:"totalAmount"`
	Method      string       `json:"method"`
	ApprovedAt  *time.Time   `json:"approvedAt"`
	Cancels     []CancelInfo `json:"cancels"`
}

type CancelInfo struct {
	CancelAmount int64     `json:"cancelAmount"`
	CancelReason string    `json:"cancelReason"`
	CanceledAt   time.Time `json:"canceledAt"`
}

type Cancellation struct {
	PaymentKey string
	Status     Status
	Reason     string
	CanceledAt time.Time
}

func (c *Confirmation) cancellation() *Cancellation {
	out := &Cancellation{
		PaymentKey: c.PaymentKey,
		Status:     c.Status,
		CanceledAt: time.Now(),
	}
	if n := len(c.Cancels); n > 0 {
		out.Reason = c.Cancels[n-1].CancelReason
		out.CanceledAt = c.Cancels[n-1].CanceledAt
	}
	return out
}
