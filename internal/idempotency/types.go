package idempotency

import "time"

// Status values for attempt entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// AttemptRecord is the shape persisted in the attempts DynamoDB table.
// One record per order; an IN_PROGRESS record blocks a second charge request.
type AttemptRecord struct {
	AttemptKey string    `dynamodbav:"attempt_key"` // PK: charge#<order_id>
	Status     string    `dynamodbav:"status"`
	OrderID    string    `dynamodbav:"order_id"`
	Owner      string    `dynamodbav:"owner,omitempty"` // process that holds the attempt
	Note       string    `dynamodbav:"note,omitempty"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
	ExpiresAt  int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// AttemptKey returns the partition key for an order's charge attempt.
func AttemptKey(orderID string) string {
	return "charge#" + orderID
}
