package domain

import (
	"time"

	"github.com/google/uuid"
)

const OrderEventsTopic = "storefront.order-events"

type OrderEventType string

const (
	EventOrderPlaced        OrderEventType = "order.placed"
	EventOrderStatusChanged OrderEventType = "order.status_changed"
	EventOrderCancelled     OrderEventType = "order.cancelled"
	EventOrderRefunded      OrderEventType = "order.refunded"
)

type OrderEvent struct {
	EventID             string         `json:"event_id"`
	Type                OrderEventType `json:"type"`
	OrderID             string         `json:"order_id"`
	CustomerID          string         `json:"customer_id"`
	Email               string         `json:"email,omitempty"`
	Status              OrderStatus    `json:"status"`
	PreviousStatus      OrderStatus    `json:"previous_status,omitempty"`
	Items               []OrderItem    `json:"items,omitempty"`
	Total               int64          `json:"total"`
	CancelReason        string         `json:"cancel_reason,omitempty"`
	RefundTransactionID string         `json:"refund_transaction_id,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
}

func NewOrderEvent(eventType OrderEventType, order *Order, at time.Time) OrderEvent {
	event := OrderEvent{
		EventID:    uuid.New().String(),
		Type:       eventType,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Email:      order.Address.Email,
		Status:     order.Status,
		Total:      order.Total,
		Timestamp:  at,
	}
	if eventType == EventOrderPlaced {
		event.Items = order.Items
	}
	if order.CancelReason != nil {
		event.CancelReason = *order.CancelReason
	}
	if order.RefundTransactionID != nil {
		event.RefundTransactionID = *order.RefundTransactionID
	}
	return event
}
