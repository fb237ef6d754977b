package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"order-payment-service/common/auth"
)

var secret = []byte("test-secret")

func setupRouter(t *testing.T, trustHeaders bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authorizer, err := auth.NewAuthorizer("")
	require.NoError(t, err)

	r := gin.New()
	r.Use(Authenticate(authorizer, secret, trustHeaders, zaptest.NewLogger(t)))
	r.GET("/whoami", func(c *gin.Context) {
		p := GetPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"userId": p.UserID, "role": p.Role, "admin": p.Can(auth.CapReadAllOrders)})
	})
	r.PUT("/admin", RequireCapability(auth.CapSetOrderStatus), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func do(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate_BearerToken(t *testing.T) {
	r := setupRouter(t, false)
	tok := token(t, jwt.MapClaims{"sub": "u1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})

	w := do(r, http.MethodGet, "/whoami", map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"u1","role":"admin","admin":true}`, w.Body.String())
}

func TestAuthenticate_RejectsBadToken(t *testing.T) {
	r := setupRouter(t, true)
	w := do(r, http.MethodGet, "/whoami", map[string]string{
		"Authorization": "Bearer not-a-jwt",
		HeaderUserID:    "u1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AuthorizationError")
}

func TestAuthenticate_GatewayHeaders(t *testing.T) {
	trusted := setupRouter(t, true)
	w := do(trusted, http.MethodGet, "/whoami", map[string]string{HeaderUserID: "u2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"u2","role":"customer","admin":false}`, w.Body.String())

	untrusted := setupRouter(t, false)
	w = do(untrusted, http.MethodGet, "/whoami", map[string]string{HeaderUserID: "u2"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	r := setupRouter(t, true)
	w := do(r, http.MethodGet, "/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireCapability(t *testing.T) {
	r := setupRouter(t, true)

	w := do(r, http.MethodPut, "/admin", map[string]string{HeaderUserID: "u1", HeaderUserRole: "customer"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPut, "/admin", map[string]string{HeaderUserID: "a1", HeaderUserRole: "ADMIN"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
}
