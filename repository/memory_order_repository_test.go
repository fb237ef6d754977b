package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-payment-service/models"
)

func newOrder(id, userID string, createdAt time.Time) *models.Order {
	return &models.Order{
		ID:          id,
		UserID:      userID,
		Items:       []models.LineItem{{ProductID: "p1", Name: "Kopi", UnitPrice: 20000, Quantity: 2}},
		TotalAmount: 40000,
		Currency:    "IDR",
		Status:      models.OrderStatusPending,
		CreatedAt:   createdAt,
	}
}

func setStatus(s models.OrderStatus) MutateFunc {
	return func(o *models.Order) (bool, error) {
		if o.Status == s {
			return false, nil
		}
		o.Status = s
		return true, nil
	}
}

func TestMemory_AppendFindAndDuplicate(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	o := newOrder("ORDER-1", "u1", time.Time{})

	require.NoError(t, repo.Append(ctx, o))
	assert.False(t, o.CreatedAt.IsZero())
	assert.Equal(t, int64(1), o.Version)

	got, err := repo.Find(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), got.TotalAmount)

	assert.ErrorIs(t, repo.Append(ctx, newOrder("ORDER-1", "u2", time.Time{})), ErrDuplicateID)

	_, err = repo.Find(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReturnedOrdersAreCopies(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-1", "u1", time.Time{})))

	got, _ := repo.Find(ctx, "ORDER-1")
	got.Status = models.OrderStatusCompleted
	got.Items[0].UnitPrice = 1

	again, _ := repo.Find(ctx, "ORDER-1")
	assert.Equal(t, models.OrderStatusPending, again.Status)
	assert.Equal(t, int64(20000), again.Items[0].UnitPrice)
}

func TestMemory_ListOrderingAndFiltering(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-A", "u1", base)))
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-B", "u2", base.Add(time.Minute))))
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-C", "u1", base.Add(2*time.Minute))))

	mine, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "ORDER-C", mine[0].ID)
	assert.Equal(t, "ORDER-A", mine[1].ID)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ORDER-C", "ORDER-B", "ORDER-A"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestMemory_UpdateSemantics(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-1", "u1", time.Time{})))
	before, _ := repo.Find(ctx, "ORDER-1")

	later := before.UpdatedAt.Add(time.Second)
	repo.now = func() time.Time { return later }

	updated, changed, err := repo.Update(ctx, "ORDER-1", setStatus(models.OrderStatusCompleted))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusCompleted, updated.Status)
	assert.Equal(t, later, updated.UpdatedAt)
	assert.Equal(t, before.Version+1, updated.Version)

	repo.now = func() time.Time { return later.Add(time.Hour) }
	same, changed, err := repo.Update(ctx, "ORDER-1", setStatus(models.OrderStatusCompleted))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, later, same.UpdatedAt)
	assert.Equal(t, updated.Version, same.Version)

	boom := errors.New("rejected")
	_, _, err = repo.Update(ctx, "ORDER-1", func(o *models.Order) (bool, error) {
		o.Status = models.OrderStatusPending
		return true, boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ := repo.Find(ctx, "ORDER-1")
	assert.Equal(t, models.OrderStatusCompleted, got.Status)

	_, _, err = repo.Update(ctx, "missing", setStatus(models.OrderStatusFailed))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ConcurrentUpdatesSerialize(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-1", "u1", time.Time{})))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.Update(ctx, "ORDER-1", func(o *models.Order) (bool, error) {
				o.TotalAmount++
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := repo.Find(ctx, "ORDER-1")
	assert.Equal(t, int64(40000+workers), got.TotalAmount)
	assert.Equal(t, int64(1+workers), got.Version)
}

func TestMemory_BoundedWaitForWriteLock(t *testing.T) {
	repo := NewMemoryOrderRepository()
	require.NoError(t, repo.Append(context.Background(), newOrder("ORDER-1", "u1", time.Time{})))

	holding := make(chan struct{})
	releaseHolder := make(chan struct{})
	go func() {
		_, _, _ = repo.Update(context.Background(), "ORDER-1", func(o *models.Order) (bool, error) {
			close(holding)
			<-releaseHolder
			return false, nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := repo.Update(ctx, "ORDER-1", setStatus(models.OrderStatusFailed))
	assert.ErrorIs(t, err, ErrStoreTimeout)

	close(releaseHolder)
}

func TestFile_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	ctx := context.Background()

	repo, err := NewFileOrderRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, newOrder("ORDER-1", "u1", time.Time{})))
	_, _, err = repo.Update(ctx, "ORDER-1", setStatus(models.OrderStatusCompleted))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk []models.Order
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk, 1)
	assert.Equal(t, models.OrderStatusCompleted, onDisk[0].Status)

	reloaded, err := NewFileOrderRepository(path)
	require.NoError(t, err)
	got, err := reloaded.Find(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestFile_WriteFailureLeavesStateUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing-dir", "orders.json")
	repo, err := NewFileOrderRepository(path)
	require.NoError(t, err)

	err = repo.Append(context.Background(), newOrder("ORDER-1", "u1", time.Time{}))
	assert.Error(t, err)

	_, err = repo.Find(context.Background(), "ORDER-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileOrderRepository(path)
	assert.Error(t, err)
}
