package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"order-payment-service/models"
)

// GormOrderRepository stores orders in Postgres. Update locks the row with
// SELECT ... FOR UPDATE inside a transaction; lockTimeout bounds the wait.
type GormOrderRepository struct {
	db          *gorm.DB
	lockTimeout time.Duration
	now         func() time.Time
}

func NewGormOrderRepository(db *gorm.DB, lockTimeout time.Duration) *GormOrderRepository {
	return &GormOrderRepository{
		db:          db,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *GormOrderRepository) Append(ctx context.Context, order *models.Order) error {
	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.Version == 0 {
		order.Version = 1
	}

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert order %s: %w", order.ID, mapContextErr(err))
	}
	return nil
}

func (r *GormOrderRepository) Find(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, mapContextErr(err))
	}
	return &order, nil
}

func (r *GormOrderRepository) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders for user %s: %w", userID, mapContextErr(err))
	}
	return orders, nil
}

func (r *GormOrderRepository) ListAll(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", mapContextErr(err))
	}
	return orders, nil
}

// errUnchanged rolls back a transaction whose mutator made no change.
var errUnchanged = errors.New("unchanged")

// mutateError carries a mutator's own error out of the transaction.
type mutateError struct{ err error }

func (e mutateError) Error() string { return e.err.Error() }
func (e mutateError) Unwrap() error { return e.err }

func (r *GormOrderRepository) Update(ctx context.Context, id string, fn MutateFunc) (*models.Order, bool, error) {
	var result models.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.lockTimeout > 0 {
			if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())).Error; err != nil {
				return err
			}
		}

		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&order).Error; err != nil {
			return err
		}

		changed, err := fn(&order)
		if err != nil {
			return mutateError{err}
		}
		if !changed {
			result = order
			return errUnchanged
		}

		order.ID = id
		touch(&order, r.now())
		if err := tx.Save(&order).Error; err != nil {
			return err
		}
		result = order
		return nil
	})

	var me mutateError
	switch {
	case err == nil:
		return &result, true, nil
	case errors.Is(err, errUnchanged):
		return &result, false, nil
	case errors.As(err, &me):
		return nil, false, me.err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, ErrNotFound
	case isLockTimeout(err):
		return nil, false, ErrStoreTimeout
	}
	return nil, false, fmt.Errorf("update order %s: %w", id, mapContextErr(err))
}

// isLockTimeout matches Postgres SQLSTATE 55P03 (lock_not_available).
func isLockTimeout(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "55P03") || strings.Contains(msg, "lock timeout")
}
