package models

import (
	"errors"
	"math"
	"slices"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusExpired    OrderStatus = "EXPIRED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

var (
	ErrUnknownStatus     = errors.New("order: unknown status")
	ErrInvalidTransition = errors.New("order: invalid status transition")
)

// orderStateTransitions lists the statuses reachable from each status.
// Terminal statuses only move to COMPLETED, which covers a payment that
// settles after the invoice was marked expired or failed.
var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusProcessing,
		OrderStatusCompleted,
		OrderStatusExpired,
		OrderStatusFailed,
	},
	OrderStatusProcessing: {
		OrderStatusCompleted,
		OrderStatusExpired,
		OrderStatusFailed,
	},
	OrderStatusCompleted: {},
	OrderStatusExpired:   {OrderStatusCompleted},
	OrderStatusFailed:    {OrderStatusCompleted},
}

func (s OrderStatus) IsValid() bool {
	_, ok := orderStateTransitions[s]
	return ok
}

// IsTerminal reports whether no payment outcome is still pending for the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusExpired, OrderStatusFailed:
		return true
	}
	return false
}

// ParseOrderStatus accepts any letter case.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", ErrUnknownStatus
	}
	return s, nil
}

// CanTransition reports whether an order may move from one status to another.
// Moving to the current status is not a transition.
func CanTransition(from, to OrderStatus) bool {
	next, ok := orderStateTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(next, to)
}

// LineItem is a snapshot of a product taken when the order was placed.
type LineItem struct {
	ProductID string `json:"productId" dynamodbav:"product_id" binding:"required"`
	Name      string `json:"name" dynamodbav:"name" binding:"required"`
	UnitPrice int64  `json:"price" dynamodbav:"unit_price" binding:"gt=0"`
	Quantity  int    `json:"quantity" dynamodbav:"quantity" binding:"gt=0"`
}

// ErrAmountOverflow is returned when an amount does not fit in int64 minor units.
var ErrAmountOverflow = errors.New("amount exceeds the representable range")

// Subtotal returns price times quantity. Price and quantity must be positive.
func (i LineItem) Subtotal() (int64, error) {
	if i.Quantity > 0 && i.UnitPrice > math.MaxInt64/int64(i.Quantity) {
		return 0, ErrAmountOverflow
	}
	return i.UnitPrice * int64(i.Quantity), nil
}

// ComputeTotal sums the subtotals of all items, in minor units.
func ComputeTotal(items []LineItem) (int64, error) {
	var total int64
	for _, item := range items {
		sub, err := item.Subtotal()
		if err != nil {
			return 0, err
		}
		if sub > math.MaxInt64-total {
			return 0, ErrAmountOverflow
		}
		total += sub
	}
	return total, nil
}

type Order struct {
	ID             string          `gorm:"type:varchar(64);primaryKey" json:"id" dynamodbav:"order_id"`
	UserID         string          `gorm:"type:varchar(64);not null;index" json:"userId" dynamodbav:"user_id"`
	Items          []LineItem      `gorm:"type:jsonb;serializer:json;not null" json:"items" dynamodbav:"items"`
	TotalAmount    int64           `gorm:"not null" json:"totalAmount" dynamodbav:"total_amount"`
	Currency       string          `gorm:"type:varchar(8)" json:"currency" dynamodbav:"currency"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status" dynamodbav:"status"`
	InvoiceID      string          `gorm:"type:varchar(128);index" json:"invoiceId,omitempty" dynamodbav:"invoice_id,omitempty"`
	InvoiceURL     string          `gorm:"type:text" json:"invoiceUrl,omitempty" dynamodbav:"invoice_url,omitempty"`
	InvoiceExpiry  *time.Time      `json:"invoiceExpiry,omitempty" dynamodbav:"invoice_expiry,omitempty"`
	PaymentDetails *PaymentDetails `gorm:"type:jsonb;serializer:json" json:"paymentDetails,omitempty" dynamodbav:"payment_details,omitempty"`
	Version        int64           `gorm:"not null" json:"version" dynamodbav:"version"`
	CreatedAt      time.Time       `gorm:"index" json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" dynamodbav:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.InvoiceExpiry != nil {
		t := *o.InvoiceExpiry
		c.InvoiceExpiry = &t
	}
	c.PaymentDetails = o.PaymentDetails.Clone()
	return &c
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}

// InvoiceMatches reports whether a gateway invoice id belongs to this order.
// Orders with no recorded invoice accept any id.
func (o *Order) InvoiceMatches(invoiceID string) bool {
	if o.InvoiceID != "" && o.InvoiceID != invoiceID {
		return false
	}
	if o.PaymentDetails != nil && o.Status.IsTerminal() &&
		o.PaymentDetails.GatewayInvoiceID != "" && o.PaymentDetails.GatewayInvoiceID != invoiceID {
		return false
	}
	return true
}
