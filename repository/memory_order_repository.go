package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"order-payment-service/models"
)

// MemoryOrderRepository keeps orders in process and admits one writer at a
// time. With a snapshot path, every write rewrites the whole dataset to that
// JSON file (temp file, fsync, rename) before it becomes visible.
type MemoryOrderRepository struct {
	writeLock chan struct{}

	mu     sync.RWMutex
	orders map[string]*models.Order

	snapshotPath string
	now          func() time.Time
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		writeLock: make(chan struct{}, 1),
		orders:    make(map[string]*models.Order),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewFileOrderRepository loads orders from path, if it exists, and persists
// every write back to it.
func NewFileOrderRepository(path string) (*MemoryOrderRepository, error) {
	r := NewMemoryOrderRepository()
	r.snapshotPath = path

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read orders file: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var orders []models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("decode orders file %s: %w", path, err)
	}
	for i := range orders {
		o := orders[i]
		r.orders[o.ID] = &o
	}
	return r, nil
}

func (r *MemoryOrderRepository) acquire(ctx context.Context) error {
	select {
	case r.writeLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrStoreTimeout
		}
		return ctx.Err()
	}
}

func (r *MemoryOrderRepository) release() {
	<-r.writeLock
}

func (r *MemoryOrderRepository) Append(ctx context.Context, order *models.Order) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	r.mu.RLock()
	_, exists := r.orders[order.ID]
	r.mu.RUnlock()
	if exists {
		return ErrDuplicateID
	}

	stored := order.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.Version == 0 {
		stored.Version = 1
	}

	if err := r.persist(stored); err != nil {
		return err
	}

	r.mu.Lock()
	r.orders[stored.ID] = stored
	r.mu.Unlock()

	*order = *stored.Clone()
	return nil
}

func (r *MemoryOrderRepository) Find(ctx context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.list(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (r *MemoryOrderRepository) ListAll(ctx context.Context) ([]models.Order, error) {
	return r.list(func(*models.Order) bool { return true }), nil
}

func (r *MemoryOrderRepository) list(keep func(*models.Order) bool) []models.Order {
	r.mu.RLock()
	out := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, *o.Clone())
		}
	}
	r.mu.RUnlock()

	sortRecentFirst(out)
	return out
}

func (r *MemoryOrderRepository) Update(ctx context.Context, id string, fn MutateFunc) (*models.Order, bool, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, false, err
	}
	defer r.release()

	r.mu.RLock()
	current, ok := r.orders[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false, ErrNotFound
	}

	working := current.Clone()
	changed, err := fn(working)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return current.Clone(), false, nil
	}

	working.ID = current.ID
	touch(working, r.now())
	if err := r.persist(working); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	r.orders[id] = working
	r.mu.Unlock()

	return working.Clone(), true, nil
}

// persist writes the dataset with pending replacing its stored version.
// Callers hold the write lock.
func (r *MemoryOrderRepository) persist(pending *models.Order) error {
	if r.snapshotPath == "" {
		return nil
	}

	r.mu.RLock()
	all := make([]models.Order, 0, len(r.orders)+1)
	for id, o := range r.orders {
		if id != pending.ID {
			all = append(all, *o)
		}
	}
	r.mu.RUnlock()
	all = append(all, *pending)
	sortRecentFirst(all)

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode orders: %w", err)
	}
	return writeFileAtomic(r.snapshotPath, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".orders-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
