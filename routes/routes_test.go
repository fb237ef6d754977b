package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"order-payment-service/common/auth"
	"order-payment-service/controllers"
	"order-payment-service/gateway"
	"order-payment-service/middleware"
	"order-payment-service/models"
	"order-payment-service/repository"
	"order-payment-service/services"
)

const callbackToken = "cb-token"

func fakeXendit(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "INV-1",
			"external_id": body["external_id"],
			"status":      "PENDING",
			"invoice_url": "https://checkout.xendit.co/web/INV-1",
			"expiry_date": "2026-04-02T09:00:00Z",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	authorizer, err := auth.NewAuthorizer("")
	require.NoError(t, err)

	repo := repository.NewMemoryOrderRepository()
	gw := gateway.NewXenditGateway("xnd_test", callbackToken, fakeXendit(t).URL)
	orderSvc := services.NewOrderService(repo, gw, nil, nil, services.CheckoutConfig{
		PublicBaseURL: "https://shop.example",
		MerchantName:  "Warung Kopi",
		StoreTimeout:  time.Second,
	}, logger)
	processor := services.NewWebhookProcessor(repo, nil, nil, time.Second, logger)

	r := gin.New()
	deps := Deps{Authenticate: middleware.Authenticate(authorizer, []byte("jwt"), true, logger)}
	RegisterOpsRoutes(r, "order-payment-service")
	RegisterOrderRoutes(r, controllers.NewOrderController(orderSvc), deps)
	RegisterWebhookRoutes(r, controllers.NewWebhookController(gw, processor, nil, logger), deps)
	return r
}

func call(r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func as(userID, role string) map[string]string {
	return map[string]string{middleware.HeaderUserID: userID, middleware.HeaderUserRole: role}
}

func TestCheckoutThroughPaymentCallback(t *testing.T) {
	r := setupEngine(t)

	w := call(r, http.MethodPost, "/orders", map[string]any{
		"items":       []map[string]any{{"productId": "p1", "name": "Kopi Susu", "price": 20000, "quantity": 2}},
		"totalAmount": 40000,
	}, as("alice", "customer"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "https://checkout.xendit.co/web/INV-1", created.RedirectURL)

	callback := map[string]any{
		"id":          "INV-1",
		"external_id": created.OrderID,
		"status":      "PAID",
		"amount":      40000,
		"paid_at":     "2026-04-01T09:30:00Z",
	}
	w = call(r, http.MethodPost, "/webhook/payment-callback", callback, map[string]string{"x-callback-token": callbackToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Redelivery is acknowledged without another write.
	w = call(r, http.MethodPost, "/webhook/payment-callback", callback, map[string]string{"x-callback-token": callbackToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)

	w = call(r, http.MethodGet, "/orders/"+created.OrderID, nil, as("alice", "customer"))
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Order models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.OrderStatusCompleted, got.Order.Status)
	require.NotNil(t, got.Order.PaymentDetails)
	assert.Equal(t, int64(40000), got.Order.PaymentDetails.Amount)
	assert.Equal(t, int64(2), got.Order.Version)
}

func TestWebhookRequiresCallbackToken(t *testing.T) {
	r := setupEngine(t)
	w := call(r, http.MethodPost, "/webhook/payment-callback", map[string]any{"id": "INV-1", "external_id": "x", "status": "PAID"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateStatusRequiresAdmin(t *testing.T) {
	r := setupEngine(t)
	body := map[string]string{"orderId": "ORDER-1", "status": "COMPLETED"}

	w := call(r, http.MethodPut, "/orders", body, as("alice", "customer"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(r, http.MethodPut, "/orders", body, as("root", "admin"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = call(r, http.MethodGet, "/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	r := setupEngine(t)
	w := call(r, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"order-payment-service"}`, w.Body.String())
}
