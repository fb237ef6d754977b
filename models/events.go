package models

import "time"

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// Where a status change came from.
const (
	SourceCheckout = "checkout"
	SourceWebhook  = "webhook"
	SourceAdmin    = "admin"
)

// OrderEvent is published to SNS and Kafka whenever an order is created or
// its status changes.
type OrderEvent struct {
	Type           string      `json:"type"`
	OrderID        string      `json:"order_id"`
	UserID         string      `json:"user_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency,omitempty"`
	InvoiceID      string      `json:"invoice_id,omitempty"`
	Source         string      `json:"source"`
	Timestamp      time.Time   `json:"timestamp"`
}
