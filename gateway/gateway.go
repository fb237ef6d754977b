package gateway

import (
	"context"
	"errors"
	"time"

	"order-payment-service/models"
)

// ErrIgnoredEvent is returned by DecodeCallback for authentic notifications
// that carry no invoice status, e.g. Stripe events the service does not track.
var ErrIgnoredEvent = errors.New("gateway event ignored")

// InvoiceRequest describes the hosted invoice to open for an order.
type InvoiceRequest struct {
	Amount      int64
	ExternalID  string
	PayerEmail  string
	Description string
	Currency    string
	SuccessURL  string
	FailureURL  string
	Duration    time.Duration
}

// Invoice is the provider's answer to CreateInvoice.
type Invoice struct {
	ID        string
	URL       string
	ExpiresAt *time.Time
	Status    string
}

// PaymentGateway defines the interface every payment provider integration implements.
type PaymentGateway interface {
	Name() string

	// CreateInvoice opens a hosted invoice. Provider failures are returned as
	// a GatewayError carrying the provider status and message.
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)

	// SignatureHeader is the request header carrying the callback credential.
	SignatureHeader() string

	// VerifyCallback reports whether payload was sent by the provider.
	VerifyCallback(payload []byte, signature string) bool

	// DecodeCallback turns a verified payload into an invoice callback.
	DecodeCallback(payload []byte) (*models.InvoiceCallback, error)
}
