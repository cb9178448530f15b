package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/money"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
)

// Attempt is the ephemeral record of one charge request.
type Attempt struct {
	OrderID        string          `json:"order_id"`
	Phone          string          `json:"phone"`
	Amount         decimal.Decimal `json:"amount"`
	AttemptedAt    time.Time       `json:"attempted_at"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
}

type activeAttempt struct {
	attempt   Attempt
	poller    *Poller // nil while the charge request is being submitted
	cancelled bool    // order cancelled before the poller was installed
}

// Service initiates charges, supervises confirmation pollers and handles
// cancellation. At most one attempt per order is active at a time.
type Service struct {
	store   OrderStore
	gateway ChargeGateway
	broker  *Broker
	guard   AttemptGuard
	clock   Clock
	poll    PollerConfig
	log     *zap.Logger
	metrics Recorder

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]*activeAttempt
}

// Option configures a Service.
type Option func(*Service)

func WithGuard(g AttemptGuard) Option        { return func(s *Service) { s.guard = g } }
func WithClock(c Clock) Option               { return func(s *Service) { s.clock = c } }
func WithPollerConfig(c PollerConfig) Option { return func(s *Service) { s.poll = c } }
func WithLogger(l *zap.Logger) Option        { return func(s *Service) { s.log = l } }
func WithRecorder(r Recorder) Option         { return func(s *Service) { s.metrics = r } }

// NewService wires a Service. Without WithGuard an in-process guard is used.
func NewService(store OrderStore, gateway ChargeGateway, broker *Broker, opts ...Option) *Service {
	s := &Service{
		store:   store,
		gateway: gateway,
		broker:  broker,
		clock:   SystemClock(),
		log:     zap.NewNop(),
		metrics: nopRecorder{},
		active:  make(map[string]*activeAttempt),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = NewLocalGuard()
	}
	if s.broker == nil {
		s.broker = NewBroker(s.log)
	}
	s.poll = s.poll.withDefaults()
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Broker returns the notification broker.
func (s *Service) Broker() *Broker { return s.broker }

// Initiate validates the request, submits exactly one charge and starts a
// confirmation poller. Local validation failures make no network call.
func (s *Service) Initiate(ctx context.Context, orderID, rawPhone string, amount decimal.Decimal) (Attempt, error) {
	log := s.log.With(zap.String("order_id", orderID))

	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		s.metrics.ChargeSubmitted("invalid_phone")
		return Attempt{}, err
	}
	if err := money.Check(amount); err != nil || amount.IsZero() {
		s.metrics.ChargeSubmitted("invalid_amount")
		return Attempt{}, &ValidationError{Reason: "amount must be a positive value with at most two decimals", Err: ErrInvalidAmount}
	}
	if !amount.IsInteger() {
		s.metrics.ChargeSubmitted("invalid_amount")
		return Attempt{}, &ValidationError{Reason: "M-Pesa accepts whole shillings only", Err: ErrInvalidAmount}
	}

	if !s.reserve(orderID) {
		s.metrics.ChargeSubmitted("in_flight")
		return Attempt{}, &ValidationError{Reason: "an attempt for this order is still active", Err: ErrAttemptInFlight}
	}
	started := false
	defer func() {
		if !started {
			s.unreserve(orderID)
		}
	}()

	ok, err := s.guard.Acquire(ctx, orderID)
	if err != nil {
		return Attempt{}, fmt.Errorf("acquire attempt: %w", err)
	}
	if !ok {
		s.metrics.ChargeSubmitted("in_flight")
		return Attempt{}, &ValidationError{Reason: "an attempt for this order is still active", Err: ErrAttemptInFlight}
	}
	defer func() {
		if !started {
			s.releaseGuard(orderID, "rejected")
		}
	}()

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Attempt{}, fmt.Errorf("load order: %w", err)
	}
	if err := checkPayable(order, amount); err != nil {
		s.metrics.ChargeSubmitted("not_payable")
		return Attempt{}, err
	}

	attempt := Attempt{
		OrderID:     orderID,
		Phone:       phone,
		Amount:      amount,
		AttemptedAt: s.clock.Now(),
	}

	ref, err := s.gateway.SubmitCharge(ctx, ChargeRequest{OrderID: orderID, Phone: phone, Amount: amount})
	if err != nil {
		s.metrics.ChargeSubmitted("rejected")
		rejected := asProviderRejected(err)
		tr := orders.Transition{Expected: order.PaymentStatus, Next: orders.PaymentFailed, Detail: rejected.Detail}
		if terr := s.store.TransitionPayment(ctx, orderID, tr); terr != nil {
			log.Error("record rejected charge", zap.Error(terr))
		}
		log.Warn("charge rejected", zap.String("detail", rejected.Detail), zap.Error(err))
		return Attempt{}, rejected
	}
	attempt.TransactionRef = ref
	s.metrics.ChargeSubmitted("accepted")

	tr := orders.Transition{Expected: order.PaymentStatus, Next: orders.PaymentProcessing, TransactionRef: ref}
	if err := s.store.TransitionPayment(ctx, orderID, tr); err != nil {
		// The charge is already with the provider, so the session still starts;
		// the poller reads whatever the store holds.
		log.Error("mark payment processing", zap.String("transaction_ref", ref), zap.Error(err))
	}

	poller := s.newPoller(orderID)
	s.mu.Lock()
	cancelled := s.active[orderID] != nil && s.active[orderID].cancelled
	if !cancelled {
		s.active[orderID] = &activeAttempt{attempt: attempt, poller: poller}
	}
	s.mu.Unlock()
	if cancelled {
		// the transaction ref is on the order, so the provider callback
		// still settles the payment
		log.Warn("order cancelled while the charge was submitted, no session started",
			zap.String("transaction_ref", ref))
		return attempt, fmt.Errorf("%w: order was cancelled while the charge was being submitted", ErrNotPayable)
	}
	started = true

	poller.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		poller.Run(s.baseCtx)
	}()

	log.Info("charge accepted, awaiting confirmation",
		zap.String("transaction_ref", ref), zap.String("amount", money.Format(amount)))
	return attempt, nil
}

// Cancel voids an order whose payment has not completed. The store performs
// the conditional mutation; a lost race surfaces as *CancelRejectedError.
func (s *Service) Cancel(ctx context.Context, orderID string) (orders.Order, error) {
	log := s.log.With(zap.String("order_id", orderID))

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		s.metrics.CancelAttempted("error")
		return orders.Order{}, fmt.Errorf("load order: %w", err)
	}
	if !cancellable(order) {
		s.metrics.CancelAttempted("rejected")
		return order, &CancelRejectedError{Current: order}
	}

	if err := s.store.RequestCancel(ctx, orderID, order.PaymentStatus); err != nil {
		if errors.Is(err, orders.ErrPreconditionFailed) {
			s.metrics.CancelAttempted("rejected")
			current, gerr := s.store.Get(ctx, orderID)
			if gerr != nil {
				current = order
			}
			log.Info("cancel lost race", zap.String("payment_status", string(current.PaymentStatus)))
			return current, &CancelRejectedError{Current: current}
		}
		s.metrics.CancelAttempted("error")
		return order, fmt.Errorf("request cancel: %w", err)
	}

	s.metrics.CancelAttempted("cancelled")
	if s.stopSession(orderID) {
		log.Info("polling session stopped by cancellation")
	}
	order.Status = orders.StatusCancelled
	return order, nil
}

// ActiveSession returns the session for orderID while its poller is active.
func (s *Service) ActiveSession(orderID string) (Session, State, bool) {
	s.mu.Lock()
	a, ok := s.active[orderID]
	s.mu.Unlock()
	if !ok || a.poller == nil {
		return Session{}, StateIdle, false
	}
	return a.poller.Session(), a.poller.State(), true
}

// Close stops every active session and waits for pollers to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) newPoller(orderID string) *Poller {
	p := NewPoller(orderID, s.store, s.clock, s.poll, s.log)
	p.metrics = s.metrics
	p.onFinish = func(state State, n *Notification) {
		s.mu.Lock()
		if a, ok := s.active[orderID]; ok && a.poller == p {
			delete(s.active, orderID)
		}
		s.mu.Unlock()
		s.releaseGuard(orderID, string(state))
		if n != nil {
			s.broker.Publish(s.baseCtxOrBackground(), *n)
		}
	}
	return p
}

// baseCtxOrBackground keeps notifications flowing while Close is draining.
func (s *Service) baseCtxOrBackground() context.Context {
	if s.baseCtx.Err() != nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) reserve(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[orderID]; ok {
		return false
	}
	s.active[orderID] = &activeAttempt{}
	return true
}

func (s *Service) unreserve(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.active[orderID]; ok && a.poller == nil {
		delete(s.active, orderID)
	}
}

// stopSession stops the order's poller. An attempt still submitting its
// charge is marked so Initiate does not start a poller for it.
func (s *Service) stopSession(orderID string) bool {
	s.mu.Lock()
	a, ok := s.active[orderID]
	if ok && a.poller == nil {
		a.cancelled = true
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if a.poller == nil {
		return true
	}
	return a.poller.Stop()
}

func (s *Service) releaseGuard(orderID, outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.guard.Release(ctx, orderID, outcome); err != nil {
		s.log.Error("release attempt", zap.String("order_id", orderID), zap.Error(err))
	}
}

func checkPayable(order orders.Order, amount decimal.Decimal) error {
	if order.Status == orders.StatusCancelled || order.Status == orders.StatusCompleted {
		return &ValidationError{Reason: fmt.Sprintf("order is %s", order.Status), Err: ErrNotPayable}
	}
	switch order.PaymentStatus {
	case orders.PaymentPending, orders.PaymentFailed:
	case orders.PaymentProcessing:
		return &ValidationError{Reason: "a charge for this order is awaiting confirmation", Err: ErrAttemptInFlight}
	default:
		return &ValidationError{Reason: fmt.Sprintf("payment is %s", order.PaymentStatus), Err: ErrNotPayable}
	}
	if !amount.Equal(order.Total()) {
		return &ValidationError{
			Reason: fmt.Sprintf("requested %s, order total is %s", money.Format(amount), money.Format(order.Total())),
			Err:    ErrAmountMismatch,
		}
	}
	return nil
}

func cancellable(order orders.Order) bool {
	return order.PaymentStatus != orders.PaymentCompleted &&
		order.Status != orders.StatusCancelled &&
		order.Status != orders.StatusCompleted
}

func asProviderRejected(err error) *ProviderRejectedError {
	var pr *ProviderRejectedError
	if errors.As(err, &pr) {
		return pr
	}
	return &ProviderRejectedError{Detail: "payment provider unavailable", Err: err}
}
