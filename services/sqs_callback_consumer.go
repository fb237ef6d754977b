package services

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	apperrors "order-payment-service/common/errors"
	"order-payment-service/gateway"
	"order-payment-service/metrics"
	awspkg "order-payment-service/pkg/aws"
)

// CallbackEnvelope carries a raw gateway callback through SQS together with
// the credential the gateway sent in its signature header.
type CallbackEnvelope struct {
	Signature string `json:"signature"`
	Body      string `json:"body"`
}

// SQSCallbackConsumer feeds queued gateway callbacks to the webhook processor.
// Callbacks that can never succeed are dropped; store failures stay on the
// queue for redelivery.
type SQSCallbackConsumer struct {
	sqsConsumer *awspkg.SQSConsumer
	gateway     gateway.PaymentGateway
	processor   *WebhookProcessor
	metrics     *metrics.Recorder
	logger      *zap.Logger
}

func NewSQSCallbackConsumer(
	sqsConsumer *awspkg.SQSConsumer,
	gw gateway.PaymentGateway,
	processor *WebhookProcessor,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *SQSCallbackConsumer {
	return &SQSCallbackConsumer{
		sqsConsumer: sqsConsumer,
		gateway:     gw,
		processor:   processor,
		metrics:     recorder,
		logger:      logger,
	}
}

// Start polls until ctx is cancelled.
func (c *SQSCallbackConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting payment callback queue consumer")

	err := c.sqsConsumer.StartPolling(ctx, c.handleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Callback queue polling stopped", zap.Error(err))
	}
}

func (c *SQSCallbackConsumer) handleMessage(ctx context.Context, body string) error {
	// Unwrap an SNS envelope if present
	var snsEnvelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &snsEnvelope); err == nil && snsEnvelope.Message != "" {
		body = snsEnvelope.Message
	}

	var env CallbackEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.Body == "" {
		c.logger.Warn("Dropping malformed callback message", zap.Error(err))
		return nil
	}

	payload := []byte(env.Body)
	if !c.gateway.VerifyCallback(payload, env.Signature) {
		c.logger.Warn("Dropping queued callback with invalid signature", zap.String("gateway", c.gateway.Name()))
		c.metrics.Anomaly(metrics.AnomalyBadSignature)
		return nil
	}

	cb, err := c.gateway.DecodeCallback(payload)
	if errors.Is(err, gateway.ErrIgnoredEvent) {
		return nil
	}
	if err != nil {
		c.logger.Warn("Dropping undecodable callback", zap.Error(err))
		return nil
	}

	if _, err := c.processor.HandleCallback(ctx, cb); err != nil {
		if apperrors.IsKind(err, apperrors.KindStore) {
			return err
		}
		c.logger.Warn("Dropping rejected callback",
			zap.String("order_id", cb.ExternalID),
			zap.String("invoice_id", cb.ID),
			zap.Error(err),
		)
	}
	return nil
}
