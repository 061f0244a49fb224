package models

import (
	"time"

	"github.com/thedevsaddam/govalidator"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCanceled   OrderStatus = "CANCELED"
	OrderFailed     OrderStatus = "FAILED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCanceled, OrderFailed},
	OrderConfirmed:  {OrderProcessing, OrderCanceled, OrderFailed},
	OrderProcessing: {OrderCompleted},
}

// CanTransitionTo reports whether target is a legal next status. Status never moves backward.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// SourcesFor lists every status from which target can be reached.
func SourcesFor(target OrderStatus) []OrderStatus {
	var from []OrderStatus
	for status, nexts := range orderTransitions {
		for _, next := range nexts {
			if next == target {
				from = append(from, status)
			}
		}
	}
	return from
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProcessing, OrderCompleted, OrderCanceled, OrderFailed:
		return true
	}
	return false
}

type OrderGroup struct {
	ID       string      `json:"id" db:"id"`
	OrderRef string      `json:"order_ref" db:"order_ref"`
	UserID   int         `json:"user_id" db:"user_id"`
	CartRef  string      `json:"cart_ref" db:"cart_ref"`
	Status   OrderStatus `json:"status" db:"status"`
	Created  time.Time   `json:"created" db:"created_at"`
	Updated  time.Time   `json:"updated" db:"updated_at"`
	Orders   []Order     `json:"orders,omitempty" db:"-"`
}

type Order struct {
	ID       string      `json:"id" db:"id"`
	GroupID  string      `json:"group_id" db:"group_id"`
	OrderRef string      `json:"order_ref" db:"order_ref"`
	SellerID string      `json:"seller_id" db:"seller_id"`
	Amount   int64       `json:"amount" db:"amount"`
	Status   OrderStatus `json:"status" db:"status"`
	Created  time.Time   `json:"created" db:"created_at"`
	Updated  time.Time   `json:"updated" db:"updated_at"`
}

type OrderStatusChange struct {
	ID         string       `json:"id" db:"id"`
	OrderRef   string       `json:"order_ref" db:"order_ref"`
	OrderID    string       `json:"order_id" db:"order_id"`
	FromStatus OrderStatus  `json:"from_status" db:"from_status"`
	ToStatus   OrderStatus  `json:"to_status" db:"to_status"`
	Reason     string       `json:"reason" db:"reason"`
	Source     SignalSource `json:"source" db:"source"`
	Created    time.Time    `json:"created" db:"created_at"`
}

type UpdateOrderStatusOpts struct {
	Status string `json:"status"`
}

var UpdateOrderStatusRules = govalidator.MapData{
	"status": []string{"required", "in:PROCESSING,COMPLETED"},
}
