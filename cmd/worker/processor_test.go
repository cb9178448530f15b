package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

func seedProcessing(t *testing.T, store *orders.MemoryStore, id, ref string) {
	t.Helper()
	ctx := context.Background()
	if err := store.Create(ctx, orders.Order{OrderID: id, CustomerID: "c1", TotalCents: 50000}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.TransitionPayment(ctx, id, orders.Transition{
		Expected: orders.PaymentPending, Next: orders.PaymentProcessing, TransactionRef: ref,
	})
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
}

func message(t *testing.T, id string, res payments.CallbackResult) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestWorkerProcess_Success(t *testing.T) {
	store := orders.NewMemoryStore()
	seedProcessing(t, store, "o1", "ws_CO_1")
	p := NewProcessor(store, nil)

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", payments.CallbackResult{OrderID: "o1", TransactionRef: "ws_CO_1", ResultCode: 0}),
	}}
	resp, err := p.Handle(context.Background(), ev)
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected result %+v %v", resp, err)
	}

	order, _ := store.Get(context.Background(), "o1")
	if order.PaymentStatus != orders.PaymentCompleted {
		t.Fatalf("expected completed, got %s", order.PaymentStatus)
	}
}

func TestWorkerProcess_FailedResult(t *testing.T) {
	store := orders.NewMemoryStore()
	seedProcessing(t, store, "o1", "ws_CO_1")
	p := NewProcessor(store, nil)

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", payments.CallbackResult{OrderID: "o1", TransactionRef: "ws_CO_1", ResultCode: 2001, ResultDesc: "The initiator information is invalid."}),
	}}
	if _, err := p.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	order, _ := store.Get(context.Background(), "o1")
	if order.PaymentStatus != orders.PaymentFailed || order.PaymentError != "The initiator information is invalid." {
		t.Fatalf("unexpected order %+v", order)
	}
	warned := logs.FilterMessage("payment completed on a cancelled order, refund required")
	if warned.Len() != 1 || warned.All()[0].ContextMap()["receipt"] != "QKJ12ABC" {
		t.Fatalf("expected refund warning with receipt, got %v", logs.All())
	}
}

func TestWorkerProcess_DuplicateIsSwallowed(t *testing.T) {
	store := orders.NewMemoryStore()
	seedProcessing(t, store, "o1", "ws_CO_1")
	p := NewProcessor(store, nil)

	msg := message(t, "m1", payments.CallbackResult{OrderID: "o1", TransactionRef: "ws_CO_1"})
	for i := 0; i < 2; i++ {
		resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{msg}})
		if err != nil || len(resp.BatchItemFailures) != 0 {
			t.Fatalf("delivery %d: %+v %v", i, resp, err)
		}
	}
}

func TestWorkerProcess_PartialBatchFailure(t *testing.T) {
	store := orders.NewMemoryStore()
	seedProcessing(t, store, "o1", "ws_CO_1")
	p := NewProcessor(store, nil)

	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{"},
		message(t, "no-order", payments.CallbackResult{TransactionRef: "ws_CO_9"}),
		message(t, "ok", payments.CallbackResult{OrderID: "o1", TransactionRef: "ws_CO_1"}),
	}}
	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", resp.BatchItemFailures)
	}
	for i, want := range []string{"bad-json", "no-order"} {
		if got := resp.BatchItemFailures[i].ItemIdentifier; got != want {
			t.Fatalf("failure %d: got %s want %s", i, got, want)
		}
	}
	order, _ := store.Get(context.Background(), "o1")
	if order.PaymentStatus != orders.PaymentCompleted {
		t.Fatalf("good message in a failing batch was not applied")
	}
}

func TestWorkerProcess_UnknownOrderIsAcknowledged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewProcessor(orders.NewMemoryStore(), zap.New(core))

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "unknown", payments.CallbackResult{OrderID: "missing", TransactionRef: "ws_CO_9"}),
	}}
	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unknown order must not be redelivered, got %+v", resp.BatchItemFailures)
	}
	if logs.FilterMessage("callback for unknown order dropped").Len() != 1 {
		t.Fatalf("expected a warning for the dropped callback, got %v", logs.All())
	}
}

func TestWorkerProcess_PaidAfterCancelIsRecorded(t *testing.T) {
	store := orders.NewMemoryStore()
	seedProcessing(t, store, "o1", "ws_CO_1")
	if err := store.RequestCancel(context.Background(), "o1", orders.PaymentProcessing); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	core, logs := observer.New(zap.WarnLevel)
	p := NewProcessor(store, zap.New(core))

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", payments.CallbackResult{OrderID: "o1", TransactionRef: "ws_CO_1", ReceiptNumber: "QKJ12ABC"}),
	}}
	resp, err := p.Handle(context.Background(), ev)
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected result %+v %v", resp, err)
	}
	order, _ := store.Get(context.Background(), "o1")
	if order.Status != orders.StatusCancelled || order.PaymentStatus != orders.PaymentCompleted {
		t.Fatalf("unexpected order %+v", order)
	}
	warned := logs.FilterMessage("payment completed on a cancelled order, refund required")
	if warned.Len() != 1 || warned.All()[0].ContextMap()["receipt"] != "QKJ12ABC" {
		t.Fatalf("expected refund warning with receipt, got %v", logs.All())
	}
}
