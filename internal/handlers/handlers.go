package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/validation"
)

// OrderStore is what the routes need from the order record.
type OrderStore interface {
	payments.OrderStore
	Create(ctx context.Context, order orders.Order) error
}

// CallbackQueue carries provider results to the worker.
type CallbackQueue interface {
	SendJSON(ctx context.Context, payload any, attributes map[string]string) error
}

// HandlerConfig groups dependencies for the routes.
type HandlerConfig struct {
	Service *payments.Service
	Store   OrderStore
	// Callbacks is nil when results are applied in-process (RUN_LOCAL).
	Callbacks CallbackQueue
	Log       *zap.Logger
}

type handler struct {
	svc       *payments.Service
	store     OrderStore
	callbacks CallbackQueue
	validate  *validatorv10.Validate
	log       *zap.Logger
}

// RegisterRoutes registers the order, payment and callback routes.
func RegisterRoutes(r gin.IRouter, cfg HandlerConfig) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{
		svc:       cfg.Service,
		store:     cfg.Store,
		callbacks: cfg.Callbacks,
		validate:  validation.New(),
		log:       log,
	}

	r.POST("/orders", h.createOrder)
	r.GET("/orders/:id", h.getOrder)
	r.POST("/orders/:id/payments", h.initiatePayment)
	r.POST("/orders/:id/cancel", h.cancelOrder)
	r.POST("/mpesa/callback/:id", h.mpesaCallback)
}

const correlationKey = "correlation_id"

// RequestContext tags every request with a correlation id and logs it once
// it completes.
func RequestContext(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header("X-Request-Id", id)

		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String(correlationKey, id))
	}
}

func correlationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

func errorJSON(c *gin.Context, status int, code string, err error) {
	c.JSON(status, gin.H{"error": code, "message": payments.Reason(err)})
}

// Health is the liveness route.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
