package orders

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process order store with the same conditional
// semantics as Store. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	orders  map[string]Order
	nowFunc func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]Order),
		nowFunc: time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, order Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.OrderID]; ok {
		return ErrAlreadyExists
	}
	now := m.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusPending
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = PaymentPending
	}
	m.orders[order.OrderID] = order
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) PaymentState(ctx context.Context, orderID string) (PaymentState, error) {
	o, err := m.Get(ctx, orderID)
	if err != nil {
		return PaymentState{}, err
	}
	return PaymentState{Status: o.PaymentStatus, Detail: o.PaymentError, TransactionRef: o.TransactionRef}, nil
}

func (m *MemoryStore) TransitionPayment(ctx context.Context, orderID string, tr Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.PaymentStatus != tr.Expected {
		return ErrPreconditionFailed
	}
	o.PaymentStatus = tr.Next
	o.PaymentError = tr.Detail
	if tr.TransactionRef != "" {
		o.TransactionRef = tr.TransactionRef
	}
	o.UpdatedAt = m.nowFunc().UTC()
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) RequestCancel(ctx context.Context, orderID string, expected PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.PaymentStatus != expected || o.PaymentStatus == PaymentCompleted ||
		o.Status == StatusCancelled || o.Status == StatusCompleted {
		return ErrPreconditionFailed
	}
	o.Status = StatusCancelled
	o.UpdatedAt = m.nowFunc().UTC()
	m.orders[orderID] = o
	return nil
}
