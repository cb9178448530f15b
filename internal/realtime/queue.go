package realtime

import (
	"context"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/aws"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

// QueueSink forwards notifications to an SQS queue for consumers outside
// this process (receipts, kitchen display).
type QueueSink struct {
	publisher *aws.Publisher
}

func NewQueueSink(p *aws.Publisher) *QueueSink {
	return &QueueSink{publisher: p}
}

func (q *QueueSink) Notify(ctx context.Context, n payments.Notification) error {
	return q.publisher.SendJSON(ctx, n, map[string]string{
		"order_id": n.OrderID,
		"outcome":  string(n.Outcome),
	})
}
