package services

import (
	"context"
	"errors"
	"time"

	apperrors "order-payment-service/common/errors"
	"order-payment-service/repository"
)

// storeError maps repository failures onto application errors. Errors that
// are already application errors, such as a rejection raised inside a
// mutator, pass through.
func storeError(err error, notFoundMsg string) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(notFoundMsg)
	case errors.Is(err, repository.ErrStoreTimeout):
		return apperrors.Store("Order store is busy, try again", err)
	default:
		return apperrors.Store("Order store unavailable", err)
	}
}

func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
