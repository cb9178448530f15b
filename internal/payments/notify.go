package payments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the terminal result reported to the dashboard.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Notification is emitted once per terminal poller transition.
type Notification struct {
	ID       string    `json:"id"`
	OrderID  string    `json:"order_id"`
	Outcome  Outcome   `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

func newNotification(orderID string, outcome Outcome, detail string, attempts int, at time.Time) Notification {
	n := Notification{
		ID:       uuid.NewString(),
		OrderID:  orderID,
		Outcome:  outcome,
		Detail:   detail,
		Attempts: attempts,
		At:       at,
	}
	switch outcome {
	case OutcomeCompleted:
		n.Message = "Payment completed successfully!"
	case OutcomeFailed:
		if detail != "" {
			n.Message = "Payment failed: " + detail
		} else {
			n.Message = "Payment failed. Please try again."
		}
	case OutcomeTimedOut:
		n.Message = "Payment status unknown. Please verify your payment and refresh."
	}
	return n
}

// Sink forwards notifications outside the process (websocket hub, SQS, CloudWatch).
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Broker fans notifications out to in-process subscribers and sinks.
// Slow subscribers drop notifications instead of blocking the poller.
type Broker struct {
	mu    sync.Mutex
	subs  map[int]chan Notification
	next  int
	sinks []Sink
	log   *zap.Logger
}

// NewBroker builds a Broker. A nil logger disables logging.
func NewBroker(log *zap.Logger, sinks ...Sink) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		subs:  make(map[int]chan Notification),
		sinks: sinks,
		log:   log,
	}
}

// Subscribe returns a channel of notifications and a function that ends the subscription.
func (b *Broker) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers n to every subscriber and sink.
func (b *Broker) Publish(ctx context.Context, n Notification) {
	b.mu.Lock()
	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.log.Warn("subscriber full, dropping notification",
				zap.Int("subscriber", id), zap.String("order_id", n.OrderID))
		}
	}
	b.mu.Unlock()

	for _, s := range b.sinks {
		if err := s.Notify(ctx, n); err != nil {
			b.log.Error("notification sink failed",
				zap.String("order_id", n.OrderID), zap.String("outcome", string(n.Outcome)), zap.Error(err))
		}
	}
}
