package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"order-payment-service/common/auth"
	commonmw "order-payment-service/common/middleware"
	"order-payment-service/controllers"
	"order-payment-service/middleware"
)

// Deps carries what the route table needs besides the controllers.
type Deps struct {
	Authenticate   gin.HandlerFunc
	OrderLimiter   *commonmw.RateLimiter
	WebhookLimiter *commonmw.RateLimiter
}

// RegisterOrderRoutes sets up the order API.
func RegisterOrderRoutes(r *gin.Engine, oc *controllers.OrderController, deps Deps) {
	orders := r.Group("/orders")
	if deps.OrderLimiter != nil {
		orders.Use(commonmw.RateLimitMiddleware(deps.OrderLimiter))
	}
	orders.Use(deps.Authenticate)

	orders.POST("", oc.CreateOrder)
	orders.GET("", oc.GetOrders)
	orders.GET("/:id", oc.GetOrderByID)

	// Admin only
	orders.PUT("", middleware.RequireCapability(auth.CapSetOrderStatus), oc.UpdateOrderStatus)
}

// RegisterWebhookRoutes sets up the gateway callback endpoint. It is
// authenticated by the gateway signature, not by caller identity.
func RegisterWebhookRoutes(r *gin.Engine, wc *controllers.WebhookController, deps Deps) {
	webhook := r.Group("/webhook")
	if deps.WebhookLimiter != nil {
		webhook.Use(commonmw.RateLimitMiddleware(deps.WebhookLimiter))
	}
	webhook.POST("/payment-callback", wc.PaymentCallback)
}

// RegisterOpsRoutes exposes health and Prometheus metrics.
func RegisterOpsRoutes(r *gin.Engine, serviceName string) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	r.GET("/metrics", commonmw.PrometheusHandler())
}
