package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
)

// StatusReader is the read side the confirmation poller needs.
type StatusReader interface {
	PaymentState(ctx context.Context, orderID string) (orders.PaymentState, error)
}

// OrderStore is the authoritative order record. Mutations are conditional; the
// store decides every race.
type OrderStore interface {
	StatusReader
	Get(ctx context.Context, orderID string) (orders.Order, error)
	TransitionPayment(ctx context.Context, orderID string, tr orders.Transition) error
	RequestCancel(ctx context.Context, orderID string, expected orders.PaymentStatus) error
}

// ChargeRequest is one outbound charge.
type ChargeRequest struct {
	OrderID string
	Phone   string
	Amount  decimal.Decimal
}

// ChargeGateway submits a charge to the payment provider and returns the
// provider's transaction reference. Rejections are *ProviderRejectedError.
type ChargeGateway interface {
	SubmitCharge(ctx context.Context, req ChargeRequest) (string, error)
}

// AttemptGuard allows at most one in-flight attempt per order.
type AttemptGuard interface {
	Acquire(ctx context.Context, orderID string) (bool, error)
	Release(ctx context.Context, orderID, outcome string) error
}

// Clock is injected so polling can be driven without real delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Recorder receives counters for initiation, polling and cancellation.
type Recorder interface {
	ChargeSubmitted(result string)
	PollObserved(result string)
	SessionFinished(state State, attempts int)
	CancelAttempted(result string)
}

type nopRecorder struct{}

func (nopRecorder) ChargeSubmitted(string)     {}
func (nopRecorder) PollObserved(string)        {}
func (nopRecorder) SessionFinished(State, int) {}
func (nopRecorder) CancelAttempted(string)     {}
