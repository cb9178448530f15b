package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/aws"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/config"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/handlers"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/idempotency"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/logging"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/metrics"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/mpesa"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/realtime"
)

type routerDeps struct {
	handlers handlers.HandlerConfig
	hub      http.Handler
	registry *prometheus.Registry
	log      *zap.Logger
}

func setupRouter(deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestContext(deps.log))

	r.GET("/health", handlers.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))
	if deps.hub != nil {
		r.GET("/ws", gin.WrapH(deps.hub))
	}

	handlers.RegisterRoutes(r, deps.handlers)
	return r
}

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.MustNew("api", cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(registry, "mealpay")

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)
	sinks := []payments.Sink{hub}

	var (
		store     handlers.OrderStore
		guard     payments.AttemptGuard
		callbacks handlers.CallbackQueue
	)
	if cfg.OrdersTable == "" {
		logger.Info("no ORDERS_TABLE, using in-memory order store")
		store = orders.NewMemoryStore()
	} else {
		clients, err := aws.NewAWSClients(ctx)
		if err != nil {
			logger.Fatal("init aws clients", zap.Error(err))
		}
		store = orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
		if cfg.AttemptsTable != "" {
			owner, _ := os.Hostname()
			guard = idempotency.NewStore(clients.DynamoDB, cfg.AttemptsTable, cfg.AttemptTTL, owner+"/"+uuid.NewString())
		}
		if p := clients.Publisher(cfg.CallbackQueueURL); p != nil {
			callbacks = p
		}
		if p := clients.Publisher(cfg.NotifyQueueURL); p != nil {
			sinks = append(sinks, realtime.NewQueueSink(p))
		}
		sinks = append(sinks, metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace))
	}

	opts := []payments.Option{
		payments.WithPollerConfig(cfg.Poll),
		payments.WithLogger(logger),
		payments.WithRecorder(recorder),
	}
	if guard != nil {
		opts = append(opts, payments.WithGuard(guard))
	}
	svc := payments.NewService(store, mpesa.NewClient(cfg.MPesa, nil, logger),
		payments.NewBroker(logger, sinks...), opts...)
	defer svc.Close()

	r := setupRouter(routerDeps{
		handlers: handlers.HandlerConfig{Service: svc, Store: store, Callbacks: callbacks, Log: logger},
		hub:      hub,
		registry: registry,
		log:      logger,
	})

	// RUN_LOCAL=true serves HTTP directly; otherwise run behind API Gateway.
	if cfg.RunLocal {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("running local server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.StartWithOptions(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	}, lambda.WithContext(ctx))
}
