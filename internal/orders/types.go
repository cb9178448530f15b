package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/money"
)

// FulfillmentStatus tracks the kitchen side of an order.
type FulfillmentStatus string

// Fulfillment statuses
const (
	StatusPending   FulfillmentStatus = "pending"
	StatusConfirmed FulfillmentStatus = "confirmed"
	StatusPreparing FulfillmentStatus = "preparing"
	StatusReady     FulfillmentStatus = "ready"
	StatusCompleted FulfillmentStatus = "completed"
	StatusCancelled FulfillmentStatus = "cancelled"
)

// PaymentStatus is the authoritative payment state, moved by the provider callback.
type PaymentStatus string

// Payment statuses
const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// Terminal reports whether no further provider transition is expected.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// Item is a single meal line.
type Item struct {
	MealID     string `dynamodbav:"meal_id" json:"meal_id"`
	Quantity   int    `dynamodbav:"quantity" json:"quantity"`
	PriceCents int64  `dynamodbav:"price_cents" json:"price_cents"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID        string            `dynamodbav:"order_id"` // PK
	CustomerID     string            `dynamodbav:"customer_id,omitempty"`
	Status         FulfillmentStatus `dynamodbav:"status"`
	PaymentStatus  PaymentStatus     `dynamodbav:"payment_status"`
	PaymentError   string            `dynamodbav:"payment_error,omitempty"`
	TransactionRef string            `dynamodbav:"transaction_ref,omitempty"`
	TotalCents     int64             `dynamodbav:"total_cents"`
	Items          []Item            `dynamodbav:"items,omitempty"`
	CreatedAt      time.Time         `dynamodbav:"created_at"`
	UpdatedAt      time.Time         `dynamodbav:"updated_at"`
}

// Total returns the order total as a fixed-point amount.
func (o Order) Total() decimal.Decimal {
	return money.FromCents(o.TotalCents)
}

// PaymentState is the projection the confirmation poller reads.
type PaymentState struct {
	Status         PaymentStatus `dynamodbav:"payment_status"`
	Detail         string        `dynamodbav:"payment_error,omitempty"`
	TransactionRef string        `dynamodbav:"transaction_ref,omitempty"`
}

// Transition is a conditional payment status change.
type Transition struct {
	Expected       PaymentStatus
	Next           PaymentStatus
	Detail         string
	TransactionRef string
}
