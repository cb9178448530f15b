package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

// Processor applies provider callback results taken off the callback queue.
type Processor struct {
	store payments.OrderStore
	log   *zap.Logger
}

// NewProcessor creates a processor writing to store.
func NewProcessor(store payments.OrderStore, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{store: store, log: log}
}

// Handle processes an SQS batch. Failed messages are reported individually so
// SQS redelivers only those; repeated failures land in the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.Error("callback message failed",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg payments.CallbackResult
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return errors.New("message has no order_id")
	}

	log := p.log.With(
		zap.String("order_id", msg.OrderID),
		zap.String("transaction_ref", msg.TransactionRef),
		zap.String("correlation_id", msg.CorrelationID))
	log.Info("received callback", zap.Int("result_code", msg.ResultCode))

	applied, err := payments.ApplyCallback(ctx, p.store, msg)
	if errors.Is(err, payments.ErrNotFound) {
		// redelivery cannot make the order appear
		log.Warn("callback for unknown order dropped")
		return nil
	}
	if err != nil {
		return err
	}

	switch applied {
	case payments.AppliedRecorded:
		log.Info("payment result recorded",
			zap.Bool("succeeded", msg.Succeeded()), zap.String("receipt", msg.ReceiptNumber))
	case payments.AppliedDuplicate:
		log.Info("duplicate callback")
	case payments.AppliedStale:
		log.Warn("callback for superseded charge ignored")
	case payments.AppliedPaidAfterCancel:
		log.Warn("payment completed on a cancelled order, refund required",
			zap.String("receipt", msg.ReceiptNumber))
	case payments.AppliedConflict:
		log.Warn("callback conflicts with recorded payment", zap.String("result_desc", msg.ResultDesc))
	}
	return nil
}
