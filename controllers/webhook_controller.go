package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "order-payment-service/common/errors"
	"order-payment-service/gateway"
	"order-payment-service/metrics"
	"order-payment-service/models"
	"order-payment-service/services"
)

// maxCallbackBytes bounds the callback body read before verification.
const maxCallbackBytes = 1 << 20

// CallbackProcessor applies a decoded gateway callback.
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, cb *models.InvoiceCallback) (*services.CallbackResult, error)
}

type WebhookController struct {
	gateway   gateway.PaymentGateway
	processor CallbackProcessor
	metrics   *metrics.Recorder
	logger    *zap.Logger
}

func NewWebhookController(gw gateway.PaymentGateway, processor CallbackProcessor, recorder *metrics.Recorder, logger *zap.Logger) *WebhookController {
	return &WebhookController{
		gateway:   gw,
		processor: processor,
		metrics:   recorder,
		logger:    logger,
	}
}

// PaymentCallback handles POST /webhook/payment-callback. The callback is
// verified against the raw body before anything in it is trusted.
func (wc *WebhookController) PaymentCallback(ctx *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxCallbackBytes))
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation("Unable to read callback body"))
		return
	}

	if !wc.gateway.VerifyCallback(payload, ctx.GetHeader(wc.gateway.SignatureHeader())) {
		wc.logger.Warn("Rejected payment callback with invalid signature",
			zap.String("gateway", wc.gateway.Name()),
			zap.String("client_ip", ctx.ClientIP()),
		)
		wc.metrics.Anomaly(metrics.AnomalyBadSignature)
		wc.metrics.Callback(metrics.OutcomeRejected)
		apperrors.Respond(ctx, apperrors.Unauthenticated("Invalid callback signature"))
		return
	}

	cb, err := wc.gateway.DecodeCallback(payload)
	if errors.Is(err, gateway.ErrIgnoredEvent) {
		ctx.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
		return
	}
	if err != nil {
		wc.logger.Warn("Malformed payment callback", zap.String("gateway", wc.gateway.Name()), zap.Error(err))
		wc.metrics.Callback(metrics.OutcomeRejected)
		apperrors.Respond(ctx, apperrors.Validation("Malformed callback payload"))
		return
	}

	result, err := wc.processor.HandleCallback(ctx.Request.Context(), cb)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, models.CallbackResponse{
		Message:   callbackMessage(result),
		OrderID:   result.OrderID,
		Status:    result.Status,
		Duplicate: result.Duplicate,
		Ignored:   result.Ignored,
	})
}

func callbackMessage(r *services.CallbackResult) string {
	switch {
	case r.Duplicate:
		return "Callback already processed"
	case r.Ignored:
		return "Callback ignored for settled order"
	}
	return "Callback processed"
}
