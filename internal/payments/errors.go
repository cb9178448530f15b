package payments

import (
	"errors"
	"fmt"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
)

var (
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountMismatch  = errors.New("amount does not match order total")
	ErrAttemptInFlight = errors.New("payment attempt already in flight")
	ErrNotPayable      = errors.New("order is not awaiting payment")

	// ErrTransientPoll marks a single failed status query.
	ErrTransientPoll = errors.New("payment status query failed")
	// ErrBudgetExhausted marks a session that gave up without a terminal answer.
	ErrBudgetExhausted = errors.New("polling budget exhausted")

	ErrNotFound           = orders.ErrNotFound
	ErrPreconditionFailed = orders.ErrPreconditionFailed
)

// ValidationError is a local rejection raised before any network call.
// It is never retried.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ProviderRejectedError means the charge request itself failed. The order's
// payment status is set to failed and the charge is not resubmitted.
type ProviderRejectedError struct {
	Detail string
	Err    error
}

func (e *ProviderRejectedError) Error() string {
	if e.Detail == "" {
		return "provider rejected charge"
	}
	return "provider rejected charge: " + e.Detail
}

func (e *ProviderRejectedError) Unwrap() error { return e.Err }

// CancelRejectedError is the no-op failure of a cancellation. Current holds the
// order as the store sees it so the caller can show the real state.
type CancelRejectedError struct {
	Current orders.Order
}

func (e *CancelRejectedError) Error() string {
	return fmt.Sprintf("order %s cannot be cancelled: status=%s payment_status=%s",
		e.Current.OrderID, e.Current.Status, e.Current.PaymentStatus)
}

func (e *CancelRejectedError) Unwrap() error { return ErrPreconditionFailed }

// Reason renders an error as a customer-facing sentence.
func Reason(err error) string {
	var ve *ValidationError
	var pr *ProviderRejectedError
	var cr *CancelRejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		switch {
		case errors.Is(err, ErrInvalidPhone):
			return "Enter a valid M-Pesa number, e.g. 0712345678."
		case errors.Is(err, ErrAmountMismatch):
			return "The order total has changed. Refresh and try again."
		case errors.Is(err, ErrAttemptInFlight):
			return "A payment for this order is already in progress. Check your phone."
		case errors.Is(err, ErrNotPayable):
			return "This order is not awaiting payment."
		}
		return ve.Reason
	case errors.As(err, &pr):
		if pr.Detail != "" {
			return "Payment failed: " + pr.Detail
		}
		return "Payment initiation failed."
	case errors.As(err, &cr):
		switch {
		case cr.Current.PaymentStatus == orders.PaymentCompleted:
			return "This order has already been paid and can no longer be cancelled."
		case cr.Current.Status == orders.StatusCancelled:
			return "This order is already cancelled."
		}
		return fmt.Sprintf("This order can no longer be cancelled (status: %s).", cr.Current.Status)
	case errors.Is(err, ErrNotFound):
		return "Order not found."
	case errors.Is(err, ErrNotPayable):
		return "This order is not awaiting payment."
	}
	return "Something went wrong. Please try again."
}
