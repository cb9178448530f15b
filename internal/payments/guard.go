package payments

import (
	"context"
	"sync"
)

// LocalGuard is an in-process AttemptGuard for single-instance deployments.
type LocalGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocalGuard returns an empty LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{active: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(ctx context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[orderID]; ok {
		return false, nil
	}
	g.active[orderID] = struct{}{}
	return true, nil
}

func (g *LocalGuard) Release(ctx context.Context, orderID, outcome string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, orderID)
	return nil
}
