package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Oven29/cinema-payments/src/entities"
)

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]entities.Order
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]entities.Order),
		now:    time.Now,
	}
}

func (ms *MemoryStore) Create(_ context.Context, order entities.Order) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.orders[order.ID]; ok {
		return fmt.Errorf("%s: %w", order.ID, ErrOrderExists)
	}
	now := ms.now().UTC()
	if order.Status == "" {
		order.Status = entities.StatusPending
	}
	order.CreatedAt = now
	order.UpdatedAt = now
	ms.orders[order.ID] = order
	return nil
}

func (ms *MemoryStore) Get(_ context.Context, orderID string) (*entities.Order, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	o, ok := ms.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	return &o, nil
}

// CompareAndSetStatus moves the order to `to` only if it is currently `from`.
func (ms *MemoryStore) CompareAndSetStatus(_ context.Context, orderID string, from, to entities.OrderStatus, transactionNo, responseCode string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	o, ok := ms.orders[orderID]
	if !ok {
		return false, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.TransactionNo = transactionNo
	o.ResponseCode = responseCode
	o.UpdatedAt = ms.now().UTC()
	ms.orders[orderID] = o
	return true, nil
}
