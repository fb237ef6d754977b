package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an error for callers that need to react to it.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindAuthorization Kind = "AuthorizationError"
	KindNotFound      Kind = "NotFound"
	KindConflict      Kind = "ConflictError"
	KindGateway       Kind = "GatewayError"
	KindStore         Kind = "StoreError"
	KindInternal      Kind = "InternalError"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"-"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Provider error code, set for gateway failures.
	ProviderCode string `json:"code,omitempty"`
	Err          error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(code int, kind Kind, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, KindValidation, message, nil)
}

// Unauthenticated is an AuthorizationError for missing or invalid credentials.
func Unauthenticated(message string) *Error {
	return New(http.StatusUnauthorized, KindAuthorization, message, nil)
}

// Forbidden is an AuthorizationError for a caller that lacks a capability.
func Forbidden(message string) *Error {
	return New(http.StatusForbidden, KindAuthorization, message, nil)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, KindNotFound, message, nil)
}

func Conflict(message string, err error) *Error {
	return New(http.StatusConflict, KindConflict, message, err)
}

// Gateway wraps a payment provider failure. Provider 4xx and 5xx statuses
// pass through unchanged; transport failures without a status become 502.
func Gateway(status int, providerCode, message string, err error) *Error {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	e := New(status, KindGateway, message, err)
	e.ProviderCode = providerCode
	return e
}

func Store(message string, err error) *Error {
	return New(http.StatusInternalServerError, KindStore, message, err)
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

func toAppError(err error) *Error {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return New(http.StatusInternalServerError, KindInternal, "Internal server error", err)
}

// Respond writes err as the standard error body and aborts the request.
func Respond(c *gin.Context, err error) {
	appErr := toAppError(err)
	c.AbortWithStatusJSON(appErr.Code, gin.H{"error": appErr})
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			Respond(c, c.Errors.Last().Err)
		}
	}
}
