package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/aws"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/config"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/logging"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.MustNew("worker", cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("init aws clients", zap.Error(err))
	}
	processor := NewProcessor(orders.NewStore(clients.DynamoDB, cfg.OrdersTable), logger)

	// RUN_LOCAL=true feeds a single message from LOCAL_SQS_BODY through the handler.
	if cfg.RunLocal {
		body := cfg.LocalSQSBody
		if body == "" {
			body = `{"order_id":"local-order-1","transaction_ref":"ws_CO_local","result_code":0,"result_desc":"local"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		resp, err := processor.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler failed", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(processor.Handle)
}
