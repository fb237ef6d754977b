package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"order-payment-service/common/auth"
	apperrors "order-payment-service/common/errors"
	"order-payment-service/gateway"
	"order-payment-service/metrics"
	"order-payment-service/models"
	"order-payment-service/repository"
)

var tracer = otel.Tracer("order-payment-service/services")

// CheckoutConfig holds the invoice settings applied to every new order.
type CheckoutConfig struct {
	Currency        string
	PublicBaseURL   string
	MerchantName    string
	InvoiceDuration time.Duration
	StoreTimeout    time.Duration
}

type OrderService struct {
	repo    repository.OrderRepository
	gateway gateway.PaymentGateway
	events  EventPublisher
	metrics *metrics.Recorder
	logger  *zap.Logger
	cfg     CheckoutConfig
	newID   func() string
}

func NewOrderService(
	repo repository.OrderRepository,
	gw gateway.PaymentGateway,
	events EventPublisher,
	recorder *metrics.Recorder,
	cfg CheckoutConfig,
	logger *zap.Logger,
) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	if cfg.InvoiceDuration <= 0 {
		cfg.InvoiceDuration = 24 * time.Hour
	}
	return &OrderService{
		repo:    repo,
		gateway: gw,
		events:  events,
		metrics: recorder,
		logger:  logger,
		cfg:     cfg,
		newID:   func() string { return "ORDER-" + uuid.NewString() },
	}
}

// CreateOrder opens a gateway invoice for the items and records a PENDING
// order. Nothing is stored when the gateway refuses the invoice.
func (s *OrderService) CreateOrder(ctx context.Context, caller *auth.Principal, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	if caller == nil {
		return nil, apperrors.Unauthenticated("Authentication required")
	}
	if !caller.Can(auth.CapCreateOrder) {
		return nil, apperrors.Forbidden("Not allowed to create orders")
	}
	if err := validateOrderRequest(req); err != nil {
		return nil, err
	}
	if req.UserID != "" && req.UserID != caller.UserID {
		s.logger.Warn("Order user id mismatch",
			zap.String("user_id", caller.UserID),
			zap.String("requested_user_id", req.UserID),
		)
		return nil, apperrors.Forbidden("User ID mismatch")
	}

	orderID := s.newID()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int64("order.total", req.TotalAmount))

	invoice, err := s.gateway.CreateInvoice(ctx, gateway.InvoiceRequest{
		Amount:      req.TotalAmount,
		ExternalID:  orderID,
		PayerEmail:  caller.Email,
		Description: s.description(orderID),
		Currency:    s.cfg.Currency,
		SuccessURL:  s.redirectURL("/order-success", orderID),
		FailureURL:  s.redirectURL("/order-failed", orderID),
		Duration:    s.cfg.InvoiceDuration,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoice creation failed")
		s.logger.Error("Failed to create invoice",
			zap.String("order_id", orderID),
			zap.String("gateway", s.gateway.Name()),
			zap.Error(err),
		)
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.Gateway(0, "", "Payment creation failed", err)
		}
		return nil, err
	}

	order := &models.Order{
		ID:            orderID,
		UserID:        caller.UserID,
		Items:         append([]models.LineItem(nil), req.Items...),
		TotalAmount:   req.TotalAmount,
		Currency:      s.cfg.Currency,
		Status:        models.OrderStatusPending,
		InvoiceID:     invoice.ID,
		InvoiceURL:    invoice.URL,
		InvoiceExpiry: invoice.ExpiresAt,
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.repo.Append(storeCtx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order not stored")
		s.logger.Error("Failed to store order",
			zap.String("order_id", orderID),
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		return nil, storeError(err, "Order not found")
	}

	s.logger.Info("Order created",
		zap.String("order_id", orderID),
		zap.String("user_id", caller.UserID),
		zap.String("invoice_id", invoice.ID),
		zap.Int64("total_amount", order.TotalAmount),
	)
	s.metrics.OrderCreated(order)
	notify(ctx, s.events, s.logger, models.OrderEvent{
		Type:      models.EventOrderCreated,
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
		InvoiceID: order.InvoiceID,
		Source:    models.SourceCheckout,
		Timestamp: order.CreatedAt,
	})

	return &models.CreateOrderResponse{
		OrderID:     order.ID,
		RedirectURL: invoice.URL,
		ExpiryDate:  invoice.ExpiresAt,
	}, nil
}

// ListOrders returns every order for callers allowed to read all of them and
// the caller's own orders otherwise, most recent first.
func (s *OrderService) ListOrders(ctx context.Context, caller *auth.Principal) ([]models.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var (
		orders []models.Order
		err    error
	)
	switch {
	case caller.Can(auth.CapReadAllOrders):
		orders, err = s.repo.ListAll(storeCtx)
	case caller.Can(auth.CapReadOwnOrders):
		orders, err = s.repo.ListByUser(storeCtx, caller.UserID)
	default:
		return nil, apperrors.Forbidden("Not allowed to read orders")
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Error("Failed to list orders", zap.String("user_id", caller.UserID), zap.Error(err))
		return nil, storeError(err, "Order not found")
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// GetOrder returns one order. Orders the caller may not read are reported as
// missing so their existence is not revealed.
func (s *OrderService) GetOrder(ctx context.Context, caller *auth.Principal, id string) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	if !caller.Can(auth.CapReadAllOrders) && !caller.Can(auth.CapReadOwnOrders) {
		return nil, apperrors.Forbidden("Not allowed to read orders")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	order, err := s.repo.Find(storeCtx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("Failed to load order", zap.String("order_id", id), zap.Error(err))
		}
		return nil, storeError(err, "Order not found")
	}
	if !caller.Can(auth.CapReadAllOrders) && !order.OwnedBy(caller.UserID) {
		return nil, apperrors.NotFound("Order not found")
	}
	return order, nil
}

// SetStatus moves an order to status on behalf of an operator. Setting the
// current status returns the order unchanged.
func (s *OrderService) SetStatus(ctx context.Context, caller *auth.Principal, id, rawStatus string) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.SetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id), attribute.String("order.status", rawStatus))

	if !caller.Can(auth.CapSetOrderStatus) {
		return nil, apperrors.Forbidden("Not allowed to update order status")
	}
	if strings.TrimSpace(id) == "" || strings.TrimSpace(rawStatus) == "" {
		return nil, apperrors.Validation("orderId and status are required")
	}
	target, err := models.ParseOrderStatus(rawStatus)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("Unknown order status %q", rawStatus))
	}

	var previous models.OrderStatus
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	order, changed, err := s.repo.Update(storeCtx, id, func(o *models.Order) (bool, error) {
		previous = o.Status
		if o.Status == target {
			return false, nil
		}
		if !models.CanTransition(o.Status, target) {
			return false, apperrors.Conflict(
				fmt.Sprintf("Cannot change order status from %s to %s", o.Status, target),
				models.ErrInvalidTransition,
			)
		}
		o.Status = target
		return true, nil
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Order status not updated",
			zap.String("order_id", id),
			zap.String("status", string(target)),
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return nil, storeError(err, "Order not found")
	}

	if changed {
		s.logger.Info("Order status updated",
			zap.String("order_id", id),
			zap.String("previous_status", string(previous)),
			zap.String("status", string(order.Status)),
			zap.String("user_id", caller.UserID),
		)
		s.metrics.StatusChanged(previous, order.Status)
		notify(ctx, s.events, s.logger, statusChangedEvent(order, previous, models.SourceAdmin))
	}
	return order, nil
}

func (s *OrderService) description(orderID string) string {
	if s.cfg.MerchantName == "" {
		return "Order " + orderID
	}
	return fmt.Sprintf("Order %s - %s", orderID, s.cfg.MerchantName)
}

func (s *OrderService) redirectURL(path, orderID string) string {
	if s.cfg.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + path + "?orderId=" + url.QueryEscape(orderID)
}

var requestValidator = apperrors.NewValidator()

// validateOrderRequest applies the request's binding rules, then checks that
// the claimed total matches the items.
func validateOrderRequest(req *models.CreateOrderRequest) error {
	if req == nil {
		return apperrors.Validation("Order request is required")
	}
	if err := requestValidator.Struct(req); err != nil {
		return apperrors.FromBinding(err)
	}
	computed, err := models.ComputeTotal(req.Items)
	if err != nil {
		return apperrors.Validation("Item total exceeds the supported amount")
	}
	if computed != req.TotalAmount {
		return apperrors.Validation(fmt.Sprintf("totalAmount %d does not match item total %d", req.TotalAmount, computed))
	}
	return nil
}

func statusChangedEvent(order *models.Order, previous models.OrderStatus, source string) models.OrderEvent {
	return models.OrderEvent{
		Type:           models.EventOrderStatusChanged,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		InvoiceID:      order.InvoiceID,
		Source:         source,
		Timestamp:      order.UpdatedAt,
	}
}
