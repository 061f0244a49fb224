package models

import (
	"fmt"
	"time"

	"github.com/thedevsaddam/govalidator"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCanceled  PaymentStatus = "CANCELED"
)

// IsTerminal reports whether no automatic transition leaves the status.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentCompleted, PaymentFailed, PaymentCanceled:
		return true
	}
	return false
}

// CanTransitionTo encodes PENDING -> COMPLETED|FAILED and COMPLETED -> CANCELED.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return target == PaymentCompleted || target == PaymentFailed
	case PaymentCompleted:
		return target == PaymentCanceled
	}
	return false
}

type PaymentMethod string

const (
	MethodCard           PaymentMethod = "card"
	MethodVirtualAccount PaymentMethod = "virtual_account"
	MethodBankTransfer   PaymentMethod = "bank_transfer"
	MethodMobile         PaymentMethod = "mobile"
	MethodOther          PaymentMethod = "other"
)

var PaymentMethods = []PaymentMethod{
	MethodCard,
	MethodVirtualAccount,
	MethodBankTransfer,
	MethodMobile,
	MethodOther,
}

func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type Payment struct {
	ID           string        `json:"-" db:"id"`
	OrderRef     string        `json:"order_ref" db:"order_ref"`
	UserID       int           `json:"user_id" db:"user_id"`
	Amount       int64         `json:"amount" db:"amount"`
	Method       PaymentMethod `json:"method" db:"method"`
	Status       PaymentStatus `json:"status" db:"status"`
	GatewayToken *string       `json:"gateway_token,omitempty" db:"gateway_token"`
	FailReason   *string       `json:"fail_reason,omitempty" db:"fail_reason"`
	CancelReason *string       `json:"cancel_reason,omitempty" db:"cancel_reason"`
	PendingKey   *string       `json:"-" db:"pending_key"`
	ApprovedAt   *time.Time    `json:"approved_at,omitempty" db:"approved_at"`
	CanceledAt   *time.Time    `json:"canceled_at,omitempty" db:"canceled_at"`
	Created      time.Time     `json:"created" db:"created_at"`
	Updated      time.Time     `json:"updated" db:"updated_at"`
}

// PendingKeyFor builds the value that keeps a single PENDING payment per user and amount.
func PendingKeyFor(userID int, amount int64) string {
	return fmt.Sprintf("%d:%d", userID, amount)
}

type PaymentStatusChange struct {
	ID         string        `json:"id" db:"id"`
	OrderRef   string        `json:"order_ref" db:"order_ref"`
	FromStatus PaymentStatus `json:"from_status" db:"from_status"`
	ToStatus   PaymentStatus `json:"to_status" db:"to_status"`
	Reason     string        `json:"reason" db:"reason"`
	Source     SignalSource  `json:"source" db:"source"`
	Created    time.Time     `json:"created" db:"created_at"`
}

type PreparePaymentOpts struct {
	Amount  int64  `json:"amount"`
	Method  string `json:"method"`
	CartRef string `json:"cart_ref"`
}

var PreparePaymentRules = govalidator.MapData{
	"amount":   []string{"required", "numeric", "min_amount"},
	"method":   []string{"required", "payment_method"},
	"cart_ref": []string{"required", "max:64"},
}

type PreparePaymentResponse struct {
	OrderRef string `json:"order_ref"`
	Reused   bool   `json:"reused"`
}

type AbandonPaymentOpts struct {
	OrderRef   string `json:"order_ref"`
	FailReason string `json:"fail_reason"`
}

var AbandonPaymentRules = govalidator.MapData{
	"order_ref":   []string{"required", "max:64"},
	"fail_reason": []string{"required", "max:255"},
}

type ConfirmPaymentOpts struct {
	OrderRef     string `json:"order_ref"`
	GatewayToken string `json:"gateway_token"`
	Amount       int64  `json:"amount"`
}

var ConfirmPaymentRules = govalidator.MapData{
	"order_ref":     []string{"required", "max:64"},
	"gateway_token": []string{"required", "max:200"},
	"amount":        []string{"required", "numeric"},
}

type CancelPaymentOpts struct {
	OrderRef string `json:"order_ref"`
	Reason   string `json:"reason"`
}

var CancelPaymentRules = govalidator.MapData{
	"order_ref": []string{"required", "max:64"},
	"reason":    []string{"required", "max:200"},
}

type GetPaymentsOpts struct {
	Status      string `schema:"status"`
	CreatedFrom string `schema:"created_from"`
	CreatedTo   string `schema:"created_to"`
	Limit       int    `schema:"limit"`
}

var GetPaymentsRules = govalidator.MapData{
	"status":       []string{"in:PENDING,COMPLETED,FAILED,CANCELED"},
	"created_from": []string{"date_ISO8601"},
	"created_to":   []string{"date_ISO8601"},
	"limit":        []string{"numeric_between:1,500"},
}

type ReconcileSweepOpts struct {
	OlderThanMinutes int `json:"older_than_minutes"`
	Limit            int `json:"limit"`
}

var ReconcileSweepRules = govalidator.MapData{
	"older_than_minutes": []string{"numeric"},
	"limit":              []string{"numeric"},
}
