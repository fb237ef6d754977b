package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"order-payment-service/circuitbreaker"
	apperrors "order-payment-service/common/errors"
	"order-payment-service/models"
)

const (
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
)

// Guarded wraps a provider with a per-call timeout and a circuit breaker.
// Provider rejections (4xx) do not trip the breaker.
type Guarded struct {
	next    PaymentGateway
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

func NewGuarded(next PaymentGateway, timeout time.Duration, logger *zap.Logger) *Guarded {
	cb := circuitbreaker.NewCircuitBreaker(DefaultBreakerFailures, DefaultBreakerReset)
	cb.IsFailure = isProviderFault
	return &Guarded{next: next, breaker: cb, timeout: timeout, logger: logger}
}

func isProviderFault(err error) bool {
	appErr, ok := apperrors.As(err)
	if !ok {
		return true
	}
	return appErr.Code >= http.StatusInternalServerError
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) SignatureHeader() string { return g.next.SignatureHeader() }

func (g *Guarded) VerifyCallback(payload []byte, signature string) bool {
	return g.next.VerifyCallback(payload, signature)
}

func (g *Guarded) DecodeCallback(payload []byte) (*models.InvoiceCallback, error) {
	return g.next.DecodeCallback(payload)
}

func (g *Guarded) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var inv *Invoice
	err := g.breaker.Execute(ctx, func() error {
		var err error
		inv, err = g.next.CreateInvoice(ctx, req)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		g.logger.Warn("Payment gateway circuit open",
			zap.String("gateway", g.next.Name()),
			zap.String("order_id", req.ExternalID),
		)
		return nil, apperrors.Gateway(http.StatusServiceUnavailable, "", "payment gateway temporarily unavailable", err)
	}
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.Gateway(0, "", "payment gateway call failed", err)
		}
		return nil, err
	}
	return inv, nil
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() circuitbreaker.State {
	return g.breaker.GetState()
}
