package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	apperrors "order-payment-service/common/errors"
	"order-payment-service/models"
)

const (
	stripeSignatureHeader = "Stripe-Signature"

	// Checkout sessions must expire between 30 minutes and 24 hours after creation.
	stripeMinSessionTTL = 30 * time.Minute
	stripeMaxSessionTTL = 24*time.Hour - time.Minute
)

// StripeGateway implements PaymentGateway on Stripe Checkout Sessions.
type StripeGateway struct {
	api        *client.API
	webhookKey string
	now        func() time.Time
}

// NewStripeGateway builds a gateway with its own API client. backends may be
// nil to use the default Stripe endpoints.
func NewStripeGateway(secretKey, webhookKey string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{
		api:        client.New(secretKey, backends),
		webhookKey: webhookKey,
		now:        time.Now,
	}
}

func (s *StripeGateway) Name() string { return "stripe" }

func (s *StripeGateway) SignatureHeader() string { return stripeSignatureHeader }

// CreateInvoice opens a Checkout Session with a single line item for the order total.
func (s *StripeGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	ttl := req.Duration
	if ttl <= 0 || ttl > stripeMaxSessionTTL {
		ttl = stripeMaxSessionTTL
	}
	if ttl < stripeMinSessionTTL {
		ttl = stripeMinSessionTTL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ExternalID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.FailureURL),
		ExpiresAt:         stripe.Int64(s.now().Add(ttl).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}
	params.AddMetadata("order_id", req.ExternalID)
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}

	inv := &Invoice{
		ID:     sess.ID,
		URL:    sess.URL,
		Status: string(sess.Status),
	}
	if sess.ExpiresAt > 0 {
		exp := time.Unix(sess.ExpiresAt, 0).UTC()
		inv.ExpiresAt = &exp
	}
	return inv, nil
}

func (s *StripeGateway) VerifyCallback(payload []byte, signature string) bool {
	if s.webhookKey == "" || signature == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signature, s.webhookKey) == nil
}

// DecodeCallback maps the checkout session events onto invoice statuses.
// Every other event type yields ErrIgnoredEvent.
func (s *StripeGateway) DecodeCallback(payload []byte) (*models.InvoiceCallback, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}

	var status string
	switch event.Type {
	case "checkout.session.completed":
		status = "" // resolved from the session payment status below
	case "checkout.session.async_payment_succeeded":
		status = models.GatewayStatusPaid
	case "checkout.session.async_payment_failed":
		status = models.GatewayStatusFailed
	case "checkout.session.expired":
		status = models.GatewayStatusExpired
	default:
		return nil, ErrIgnoredEvent
	}

	if event.Data == nil {
		return nil, errors.New("decode stripe event: missing data")
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	if status == "" {
		switch sess.PaymentStatus {
		case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
			status = models.GatewayStatusPaid
		default:
			status = models.GatewayStatusPending
		}
	}

	externalID := sess.ClientReferenceID
	if externalID == "" {
		externalID = sess.Metadata["order_id"]
	}

	cb := &models.InvoiceCallback{
		ID:         sess.ID,
		ExternalID: externalID,
		Status:     status,
		Amount:     sess.AmountTotal,
		Currency:   strings.ToUpper(string(sess.Currency)),
	}
	if sess.CustomerDetails != nil {
		cb.PayerEmail = sess.CustomerDetails.Email
	}
	if len(sess.PaymentMethodTypes) > 0 {
		cb.PaymentMethod = sess.PaymentMethodTypes[0]
	}
	if sess.Created > 0 {
		created := time.Unix(sess.Created, 0).UTC()
		cb.Created = &created
	}
	if event.Created > 0 {
		updated := time.Unix(event.Created, 0).UTC()
		cb.Updated = &updated
		if status == models.GatewayStatusPaid {
			cb.PaidAt = &updated
			cb.PaidAmount = sess.AmountTotal
		}
	}
	return cb, nil
}

func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = "stripe request failed"
		}
		return apperrors.Gateway(se.HTTPStatusCode, string(se.Code), msg, err)
	}
	return apperrors.Gateway(0, "", "payment gateway unreachable", err)
}
