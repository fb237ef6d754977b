package models

import "time"

type CreateOrderRequest struct {
	UserID      string     `json:"userId"`
	Items       []LineItem `json:"items" binding:"required,min=1,dive"`
	TotalAmount int64      `json:"totalAmount"`
}

type CreateOrderResponse struct {
	OrderID     string     `json:"orderId"`
	RedirectURL string     `json:"redirectUrl"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

// OrderResponse is the paginated listing body.
type OrderResponse struct {
	Orders []Order   `json:"orders"`
	Meta   *MetaData `json:"meta,omitempty"`
}

type MetaData struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// CallbackResponse acknowledges a processed gateway callback.
type CallbackResponse struct {
	Message   string      `json:"message"`
	OrderID   string      `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Duplicate bool        `json:"duplicate,omitempty"`
	Ignored   bool        `json:"ignored,omitempty"`
}
