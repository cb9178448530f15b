package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
)

// manualClock fires After channels only when Tick is called.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
	calls   int
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, ch)
	return ch
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Tick advances the clock by d and fires every pending waiter.
func (c *manualClock) Tick(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	waiters := c.waiters
	c.waiters = nil
	now := c.now
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- now
	}
}

// waitForWaiter blocks until something is sleeping on the clock.
func (c *manualClock) waitForWaiter(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for poller to sleep")
		}
		time.Sleep(time.Millisecond)
	}
}

// instantClock never waits.
type instantClock struct {
	mu    sync.Mutex
	calls int
}

func (c *instantClock) Now() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// countingStore wraps MemoryStore, counts status queries and can inject
// scripted query results ahead of the real store.
type countingStore struct {
	*orders.MemoryStore

	mu      sync.Mutex
	queries int
	script  []scripted
	gate    chan struct{}
}

type scripted struct {
	status orders.PaymentStatus
	detail string
	err    error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: orders.NewMemoryStore()}
}

func (s *countingStore) PaymentState(ctx context.Context, orderID string) (orders.PaymentState, error) {
	s.mu.Lock()
	s.queries++
	gate := s.gate
	var next *scripted
	if len(s.script) > 0 {
		next = &s.script[0]
		s.script = s.script[1:]
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if next != nil {
		if next.err != nil {
			return orders.PaymentState{}, next.err
		}
		return orders.PaymentState{Status: next.status, Detail: next.detail}, nil
	}
	return s.MemoryStore.PaymentState(ctx, orderID)
}

func (s *countingStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// fakeGateway records charge requests.
type fakeGateway struct {
	mu    sync.Mutex
	reqs  []ChargeRequest
	err   error
	delay time.Duration

	// when set, SubmitCharge signals entered and blocks until release closes
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) SubmitCharge(ctx context.Context, req ChargeRequest) (string, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.release != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return "", g.err
	}
	return "ws_CO_" + req.OrderID, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reqs)
}

// recorder counts finished sessions by state.
type recorder struct {
	nopRecorder
	mu       sync.Mutex
	finished map[State]int
}

func (r *recorder) SessionFinished(state State, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[State]int{}
	}
	r.finished[state]++
}
