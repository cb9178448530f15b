package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
)

// CallbackResult is the provider's verdict on one charge, as carried from the
// callback endpoint to the worker.
type CallbackResult struct {
	OrderID        string `json:"order_id"`
	TransactionRef string `json:"transaction_ref"`
	ResultCode     int    `json:"result_code"`
	ResultDesc     string `json:"result_desc"`
	ReceiptNumber  string `json:"receipt_number,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// Succeeded reports whether the customer completed the payment.
func (r CallbackResult) Succeeded() bool { return r.ResultCode == 0 }

// Applied describes what ApplyCallback did with a result.
type Applied string

const (
	AppliedRecorded  Applied = "recorded"
	AppliedDuplicate Applied = "duplicate"
	AppliedStale     Applied = "stale"
	AppliedConflict  Applied = "conflict"
	// AppliedPaidAfterCancel is a success recorded on a cancelled order. The
	// money moved, so it is recorded, but the order needs a manual refund.
	AppliedPaidAfterCancel Applied = "paid_after_cancel"
)

// ApplyCallback records a provider result on the order. Fulfillment status is
// never touched: a cancelled order still records that money moved.
//
// Redelivered results are duplicates. A result for an older transaction
// reference is stale. A failure reported after completion is a conflict and
// is dropped. A success on a cancelled order is recorded and reported as
// AppliedPaidAfterCancel.
func ApplyCallback(ctx context.Context, store OrderStore, res CallbackResult) (Applied, error) {
	order, err := store.Get(ctx, res.OrderID)
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	if order.TransactionRef != "" && res.TransactionRef != "" && order.TransactionRef != res.TransactionRef {
		return AppliedStale, nil
	}

	tr := orders.Transition{Next: orders.PaymentCompleted, TransactionRef: res.TransactionRef}
	if !res.Succeeded() {
		tr.Next = orders.PaymentFailed
		tr.Detail = res.ResultDesc
	}

	for range 2 {
		switch {
		case order.PaymentStatus == tr.Next:
			return AppliedDuplicate, nil
		case order.PaymentStatus == orders.PaymentCompleted:
			return AppliedConflict, nil
		}

		tr.Expected = order.PaymentStatus
		err = store.TransitionPayment(ctx, res.OrderID, tr)
		if err == nil {
			if res.Succeeded() && order.Status == orders.StatusCancelled {
				return AppliedPaidAfterCancel, nil
			}
			return AppliedRecorded, nil
		}
		if !errors.Is(err, orders.ErrPreconditionFailed) {
			return "", fmt.Errorf("record payment result: %w", err)
		}
		// lost a race with another writer; decide again on fresh state
		if order, err = store.Get(ctx, res.OrderID); err != nil {
			return "", fmt.Errorf("reload order: %w", err)
		}
	}
	return AppliedConflict, nil
}
