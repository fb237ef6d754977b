package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"order-payment-service/common/auth"
	apperrors "order-payment-service/common/errors"
	"order-payment-service/middleware"
	"order-payment-service/models"
)

// OrderService is the subset of services.OrderService the HTTP layer needs.
type OrderService interface {
	CreateOrder(ctx context.Context, caller *auth.Principal, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error)
	ListOrders(ctx context.Context, caller *auth.Principal) ([]models.Order, error)
	GetOrder(ctx context.Context, caller *auth.Principal, id string) (*models.Order, error)
	SetStatus(ctx context.Context, caller *auth.Principal, id, status string) (*models.Order, error)
}

type OrderController struct {
	orderService OrderService
}

func NewOrderController(orderService OrderService) *OrderController {
	return &OrderController{orderService: orderService}
}

// CreateOrder handles POST /orders
func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	var req models.CreateOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(ctx, apperrors.FromBinding(err))
		return
	}

	resp, err := oc.orderService.CreateOrder(ctx.Request.Context(), middleware.GetPrincipal(ctx), &req)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, resp)
}

// GetOrders handles GET /orders. Admins see every order, everyone else
// their own. Passing page or limit switches to a paginated body.
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	orders, err := oc.orderService.ListOrders(ctx.Request.Context(), middleware.GetPrincipal(ctx))
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}

	_, hasPage := ctx.GetQuery("page")
	_, hasLimit := ctx.GetQuery("limit")
	if !hasPage && !hasLimit {
		ctx.JSON(http.StatusOK, models.OrderResponse{Orders: orders})
		return
	}

	page, limit := parsePaginationParams(ctx)
	ctx.JSON(http.StatusOK, paginate(orders, page, limit))
}

// GetOrderByID handles GET /orders/:id
func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	order, err := oc.orderService.GetOrder(ctx.Request.Context(), middleware.GetPrincipal(ctx), ctx.Param("id"))
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// UpdateOrderStatus handles PUT /orders
func (oc *OrderController) UpdateOrderStatus(ctx *gin.Context) {
	var req models.UpdateOrderStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(ctx, apperrors.FromBinding(err))
		return
	}

	order, err := oc.orderService.SetStatus(ctx.Request.Context(), middleware.GetPrincipal(ctx), req.OrderID, req.Status)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Order updated successfully", "order": order})
}

// Pagination bounds
const (
	MaxPageSize   = 100
	MaxPageNumber = 1000000
)

// parsePaginationParams extracts and validates page/limit query params.
func parsePaginationParams(ctx *gin.Context) (int, int) {
	pageInt, limitInt := 1, 10
	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		pageInt = min(p, MaxPageNumber)
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("limit", "10")); err == nil && l > 0 {
		limitInt = min(l, MaxPageSize)
	}
	return pageInt, limitInt
}

func paginate(orders []models.Order, page, limit int) models.OrderResponse {
	total := len(orders)
	start := total
	if page-1 <= total/limit {
		start = min((page-1)*limit, total)
	}
	end := min(start+limit, total)

	return models.OrderResponse{
		Orders: orders[start:end],
		Meta: &models.MetaData{
			Total: int64(total),
			Page:  page,
			Limit: limit,
			Pages: (total + limit - 1) / limit,
		},
	}
}
