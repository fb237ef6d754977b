package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	apperrors "order-payment-service/common/errors"
	"order-payment-service/metrics"
	"order-payment-service/models"
	"order-payment-service/repository"
)

var ErrUnknownGatewayStatus = errors.New("unknown gateway status")

// MapGatewayStatus translates an invoice status reported by the gateway
// into an order status.
func MapGatewayStatus(raw string) (models.OrderStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case models.GatewayStatusPaid, models.GatewayStatusSettled:
		return models.OrderStatusCompleted, nil
	case models.GatewayStatusExpired:
		return models.OrderStatusExpired, nil
	case models.GatewayStatusFailed:
		// Resolves the order as FAILED rather than leaving it PENDING.
		return models.OrderStatusFailed, nil
	case models.GatewayStatusPending:
		return models.OrderStatusPending, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGatewayStatus, raw)
}

// CallbackResult reports what a callback did to its order.
type CallbackResult struct {
	OrderID string
	Status  models.OrderStatus
	// Duplicate marks a redelivery of a callback already applied.
	Duplicate bool
	// Ignored marks a callback that would have moved a settled order backwards.
	Ignored bool
	Changed bool
}

// WebhookProcessor applies gateway callbacks to orders. Applying the same
// callback any number of times leaves the order as the first delivery did.
type WebhookProcessor struct {
	repo         repository.OrderRepository
	events       EventPublisher
	metrics      *metrics.Recorder
	logger       *zap.Logger
	storeTimeout time.Duration
}

func NewWebhookProcessor(repo repository.OrderRepository, events EventPublisher, recorder *metrics.Recorder, storeTimeout time.Duration, logger *zap.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		repo:         repo,
		events:       events,
		metrics:      recorder,
		logger:       logger,
		storeTimeout: storeTimeout,
	}
}

func (p *WebhookProcessor) HandleCallback(ctx context.Context, cb *models.InvoiceCallback) (*CallbackResult, error) {
	ctx, span := tracer.Start(ctx, "WebhookProcessor.HandleCallback")
	defer span.End()

	if cb == nil || strings.TrimSpace(cb.ExternalID) == "" {
		p.metrics.Callback(metrics.OutcomeRejected)
		return nil, apperrors.Validation("external_id is required")
	}
	span.SetAttributes(
		attribute.String("order.id", cb.ExternalID),
		attribute.String("invoice.id", cb.ID),
		attribute.String("invoice.status", cb.Status),
	)

	target, err := MapGatewayStatus(cb.Status)
	if err != nil {
		p.logger.Warn("Callback with unknown invoice status",
			zap.String("order_id", cb.ExternalID),
			zap.String("invoice_id", cb.ID),
			zap.String("status", cb.Status),
		)
		p.metrics.Anomaly(metrics.AnomalyUnknownStatus)
		p.metrics.Callback(metrics.OutcomeRejected)
		return nil, apperrors.Validation(fmt.Sprintf("Unknown invoice status %q", cb.Status))
	}

	details := cb.PaymentDetails()
	var (
		previous  models.OrderStatus
		duplicate bool
		ignored   bool
	)

	storeCtx, cancel := withStoreTimeout(ctx, p.storeTimeout)
	defer cancel()

	order, changed, err := p.repo.Update(storeCtx, cb.ExternalID, func(o *models.Order) (bool, error) {
		previous, duplicate, ignored = o.Status, false, false

		if !o.InvoiceMatches(cb.ID) {
			return false, apperrors.Conflict("Invoice does not belong to this order", nil)
		}

		if o.Status == target {
			if o.PaymentDetails != nil && (o.Status.IsTerminal() || o.PaymentDetails.Equal(details)) {
				duplicate = true
				return false, nil
			}
			o.PaymentDetails = details
			return true, nil
		}

		if !models.CanTransition(o.Status, target) {
			ignored = true
			return false, nil
		}

		o.Status = target
		o.PaymentDetails = details
		return true, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback not applied")
		return nil, p.callbackError(cb, err)
	}

	result := &CallbackResult{
		OrderID:   order.ID,
		Status:    order.Status,
		Duplicate: duplicate,
		Ignored:   ignored,
		Changed:   changed,
	}

	switch {
	case duplicate:
		p.logger.Info("Duplicate callback acknowledged",
			zap.String("order_id", order.ID),
			zap.String("invoice_id", cb.ID),
			zap.String("status", string(order.Status)),
		)
		p.metrics.Callback(metrics.OutcomeDuplicate)
	case ignored:
		p.logger.Warn("Callback would move settled order backwards; ignored",
			zap.String("order_id", order.ID),
			zap.String("invoice_id", cb.ID),
			zap.String("status", string(order.Status)),
			zap.String("callback_status", cb.Status),
		)
		p.metrics.Anomaly(metrics.AnomalyLateCallback)
		p.metrics.Callback(metrics.OutcomeIgnored)
	default:
		p.logger.Info("Callback applied",
			zap.String("order_id", order.ID),
			zap.String("invoice_id", cb.ID),
			zap.String("previous_status", string(previous)),
			zap.String("status", string(order.Status)),
		)
		p.metrics.Callback(metrics.OutcomeApplied)
		if changed && previous != order.Status {
			p.metrics.StatusChanged(previous, order.Status)
			notify(ctx, p.events, p.logger, statusChangedEvent(order, previous, models.SourceWebhook))
		}
	}
	return result, nil
}

func (p *WebhookProcessor) callbackError(cb *models.InvoiceCallback, err error) error {
	fields := []zap.Field{
		zap.String("order_id", cb.ExternalID),
		zap.String("invoice_id", cb.ID),
		zap.String("status", cb.Status),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		p.logger.Warn("Callback for unknown order", fields...)
		p.metrics.Anomaly(metrics.AnomalyUnknownOrder)
		p.metrics.Callback(metrics.OutcomeRejected)
	case apperrors.IsKind(err, apperrors.KindConflict):
		p.logger.Warn("Callback invoice does not match order", fields...)
		p.metrics.Anomaly(metrics.AnomalyInvoiceMismatch)
		p.metrics.Callback(metrics.OutcomeRejected)
	default:
		p.logger.Error("Failed to apply callback", fields...)
		p.metrics.Callback(metrics.OutcomeFailed)
	}
	return storeError(err, "Order not found")
}
