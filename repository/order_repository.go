package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"order-payment-service/models"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrDuplicateID   = errors.New("order id already exists")
	ErrStoreTimeout  = errors.New("order store: timed out waiting for write lock")
	ErrWriteConflict = errors.New("order store: concurrent modification")
)

// MutateFunc edits an order in place inside Update. It reports whether it
// changed anything; returning false or an error leaves the stored order as is.
// Backends with optimistic writes may call it again on a fresh copy.
type MutateFunc func(order *models.Order) (changed bool, err error)

// OrderRepository persists orders. Update is atomic with respect to every
// other write: concurrent updates of one order are serialized and each
// mutator sees the result of the previous one.
type OrderRepository interface {
	Append(ctx context.Context, order *models.Order) error
	Find(ctx context.Context, id string) (*models.Order, error)
	// ListByUser and ListAll return orders most recent first.
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	// Update returns the stored order after fn ran and whether it was written.
	Update(ctx context.Context, id string, fn MutateFunc) (*models.Order, bool, error)
}

// sortRecentFirst orders by creation time descending, ties broken by id.
func sortRecentFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

// touch records an effective mutation.
func touch(order *models.Order, now time.Time) {
	order.UpdatedAt = now
	order.Version++
}

// mapContextErr turns a deadline on the store call into ErrStoreTimeout.
func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStoreTimeout
	}
	return err
}
