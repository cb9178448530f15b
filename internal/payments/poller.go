package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
)

// State of a confirmation poller.
type State string

const (
	StateIdle      State = "idle"
	StateAwaiting  State = "awaiting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	// StateStopped ends a session without a verdict (cancellation or shutdown).
	StateStopped State = "stopped"
)

// Terminal reports whether the poller will issue no further queries.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateStopped:
		return true
	}
	return false
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 12
)

// PollerConfig bounds a polling session.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Session is the mutable record of one polling session.
type Session struct {
	OrderID    string               `json:"order_id"`
	Attempts   int                  `json:"attempts"`
	LastStatus orders.PaymentStatus `json:"last_status,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
}

// Poller is a per-order state machine that reconciles the local view of a
// charge against the authoritative payment status.
//
//	idle -> awaiting -> completed | failed | timed_out
//	awaiting -> stopped (cancellation, shutdown)
type Poller struct {
	store   StatusReader
	clock   Clock
	cfg     PollerConfig
	log     *zap.Logger
	metrics Recorder

	// onFinish runs once, after the poller reaches a terminal state.
	// n is nil for StateStopped.
	onFinish func(state State, n *Notification)

	mu      sync.Mutex
	state   State
	session Session
	stop    chan struct{}
}

// NewPoller returns an idle poller for orderID.
func NewPoller(orderID string, store StatusReader, clock Clock, cfg PollerConfig, log *zap.Logger) *Poller {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		store:   store,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		log:     log.With(zap.String("order_id", orderID)),
		metrics: nopRecorder{},
		state:   StateIdle,
		session: Session{OrderID: orderID},
		stop:    make(chan struct{}),
	}
}

// Start moves the poller from idle to awaiting.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return false
	}
	p.state = StateAwaiting
	p.session.StartedAt = p.clock.Now()
	return true
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns a copy of the session record.
func (p *Poller) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Done is closed once the poller reaches a terminal state.
func (p *Poller) Done() <-chan struct{} {
	return p.stop
}

// Stop ends an active session without a verdict. It reports whether the
// poller was still active.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return false
	}
	p.state = StateStopped
	finish := p.finishLocked(nil)
	p.mu.Unlock()
	finish()
	return true
}

// Step runs one polling cycle. A terminal poller returns its state without
// querying the store.
func (p *Poller) Step(ctx context.Context) State {
	p.mu.Lock()
	if p.state != StateAwaiting {
		st := p.state
		p.mu.Unlock()
		return st
	}
	p.mu.Unlock()

	ps, err := p.store.PaymentState(ctx, p.session.OrderID)

	p.mu.Lock()
	// a concurrent Stop wins over whatever the query returned
	if p.state != StateAwaiting {
		st := p.state
		p.mu.Unlock()
		return st
	}
	p.session.Attempts++
	attempts := p.session.Attempts

	var n *Notification
	switch {
	case err != nil:
		p.metrics.PollObserved("error")
		p.log.Warn("payment status query failed",
			zap.Int("attempt", attempts), zap.Error(errors.Join(ErrTransientPoll, err)))
	case ps.Status == orders.PaymentCompleted:
		p.session.LastStatus = ps.Status
		p.state = StateCompleted
		notification := newNotification(p.session.OrderID, OutcomeCompleted, "", attempts, p.clock.Now())
		n = &notification
	case ps.Status == orders.PaymentFailed:
		p.session.LastStatus = ps.Status
		p.state = StateFailed
		notification := newNotification(p.session.OrderID, OutcomeFailed, ps.Detail, attempts, p.clock.Now())
		n = &notification
	default:
		p.session.LastStatus = ps.Status
	}
	if err == nil {
		p.metrics.PollObserved(string(ps.Status))
	}

	if !p.state.Terminal() && attempts >= p.cfg.MaxAttempts {
		p.state = StateTimedOut
		notification := newNotification(p.session.OrderID, OutcomeTimedOut, ErrBudgetExhausted.Error(), attempts, p.clock.Now())
		n = &notification
	}

	st := p.state
	if !st.Terminal() {
		p.mu.Unlock()
		return st
	}
	finish := p.finishLocked(n)
	p.mu.Unlock()
	finish()
	return st
}

// Run polls at the configured interval until the poller is terminal or ctx ends.
// The first query happens one interval after Run starts.
func (p *Poller) Run(ctx context.Context) State {
	for {
		if st := p.State(); st.Terminal() {
			return st
		}
		select {
		case <-ctx.Done():
			p.Stop()
			return p.State()
		case <-p.stop:
			return p.State()
		case <-p.clock.After(p.cfg.Interval):
		}
		if st := p.Step(ctx); st.Terminal() {
			return st
		}
	}
}

// finishLocked closes the stop channel and returns the callback to run once
// the lock is released. Callers hold p.mu and have set a terminal state.
func (p *Poller) finishLocked(n *Notification) func() {
	close(p.stop)
	state := p.state
	attempts := p.session.Attempts
	p.log.Info("polling session finished",
		zap.String("state", string(state)), zap.Int("attempts", attempts))
	return func() {
		p.metrics.SessionFinished(state, attempts)
		if p.onFinish != nil {
			p.onFinish(state, n)
		}
	}
}
