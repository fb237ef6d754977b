package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-payment-service/common/auth"
	apperrors "order-payment-service/common/errors"
)

const PrincipalContextKey = "principal"

// Identity headers set by the API gateway after it has verified the caller.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

// Authenticate resolves the caller into an auth.Principal once per request.
// A bearer token wins over gateway headers; the headers are only honoured
// when trustGatewayHeaders is set.
func Authenticate(authorizer *auth.Authorizer, jwtSecret []byte, trustGatewayHeaders bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID, email, role string

		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			claims, err := auth.ClaimsFromToken(token, jwtSecret)
			if err != nil {
				logger.Debug("Rejected bearer token", zap.Error(err), zap.String("path", c.FullPath()))
				apperrors.Respond(c, apperrors.Unauthenticated("Invalid or expired token"))
				return
			}
			userID, email, role = claims.UserID, claims.Email, claims.Role
		} else if trustGatewayHeaders {
			userID = strings.TrimSpace(c.GetHeader(HeaderUserID))
			email = strings.TrimSpace(c.GetHeader(HeaderUserEmail))
			role = c.GetHeader(HeaderUserRole)
		}

		if userID == "" {
			apperrors.Respond(c, apperrors.Unauthenticated("Unauthorized"))
			return
		}

		principal, err := authorizer.Resolve(userID, email, role)
		if err != nil {
			logger.Error("Failed to resolve caller permissions", zap.String("user_id", userID), zap.Error(err))
			apperrors.Respond(c, err)
			return
		}

		c.Set(PrincipalContextKey, principal)
		c.Next()
	}
}

// GetPrincipal returns the caller resolved by Authenticate, or nil.
func GetPrincipal(c *gin.Context) *auth.Principal {
	if val, ok := c.Get(PrincipalContextKey); ok {
		if p, ok := val.(*auth.Principal); ok {
			return p
		}
	}
	return nil
}

// RequireCapability rejects callers that do not hold capability.
func RequireCapability(capability auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			apperrors.Respond(c, apperrors.Unauthenticated("Unauthorized"))
			return
		}
		if !p.Can(capability) {
			apperrors.Respond(c, apperrors.Forbidden("Access denied"))
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
