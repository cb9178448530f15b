package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/money"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/orders"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/validation"
)

type itemResponse struct {
	MealID    string `json:"meal_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type sessionResponse struct {
	State    payments.State `json:"state"`
	Attempts int            `json:"attempts"`
}

type orderResponse struct {
	OrderID        string                   `json:"order_id"`
	CustomerID     string                   `json:"customer_id,omitempty"`
	Status         orders.FulfillmentStatus `json:"status"`
	PaymentStatus  orders.PaymentStatus     `json:"payment_status"`
	PaymentError   string                   `json:"payment_error,omitempty"`
	TransactionRef string                   `json:"transaction_ref,omitempty"`
	Total          string                   `json:"total"`
	Currency       string                   `json:"currency"`
	Items          []itemResponse           `json:"items,omitempty"`
	Session        *sessionResponse         `json:"session,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func (h *handler) toResponse(o orders.Order) orderResponse {
	resp := orderResponse{
		OrderID:        o.OrderID,
		CustomerID:     o.CustomerID,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		PaymentError:   o.PaymentError,
		TransactionRef: o.TransactionRef,
		Total:          money.Format(o.Total()),
		Currency:       money.Currency,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, itemResponse{
			MealID:    it.MealID,
			Quantity:  it.Quantity,
			UnitPrice: money.Format(money.FromCents(it.PriceCents)),
		})
	}
	if h.svc != nil {
		if sess, state, ok := h.svc.ActiveSession(o.OrderID); ok {
			resp.Session = &sessionResponse{State: state, Attempts: sess.Attempts}
		}
	}
	return resp
}

// createOrder stores a new order. An Idempotency-Key header maps to a
// deterministic order id, so a retried request returns the first order.
func (h *handler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}

	orderID := uuid.NewString()
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		orderID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("order:"+key)).String()
	}

	totalCents, err := parseCents(req.Amount)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_amount", err)
		return
	}
	order := orders.Order{
		OrderID:       orderID,
		CustomerID:    req.CustomerID,
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		TotalCents:    totalCents,
	}
	for _, it := range req.Items {
		cents, err := parseCents(it.UnitPrice)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "invalid_amount", err)
			return
		}
		order.Items = append(order.Items, orders.Item{MealID: it.MealID, Quantity: it.Quantity, PriceCents: cents})
	}

	err = h.store.Create(ctx, order)
	switch {
	case errors.Is(err, orders.ErrAlreadyExists):
		existing, gerr := h.store.Get(ctx, orderID)
		if gerr != nil {
			errorJSON(c, http.StatusInternalServerError, "order_lookup_failed", gerr)
			return
		}
		c.JSON(http.StatusOK, h.toResponse(existing))
		return
	case err != nil:
		h.log.Error("create order", zap.String("order_id", orderID), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "create_failed", err)
		return
	}

	created, err := h.store.Get(ctx, orderID)
	if err != nil {
		created = order
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", orderID))
	c.JSON(http.StatusCreated, h.toResponse(created))
}

func (h *handler) getOrder(c *gin.Context) {
	order, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "not_found", err)
			return
		}
		h.log.Error("get order", zap.String("order_id", c.Param("id")), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(order))
}

func (h *handler) cancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	order, err := h.svc.Cancel(c.Request.Context(), orderID)
	if err != nil {
		var rejected *payments.CancelRejectedError
		switch {
		case errors.As(err, &rejected):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "cancel_rejected",
				"message": payments.Reason(err),
				"order":   h.toResponse(rejected.Current),
			})
		case errors.Is(err, payments.ErrNotFound):
			errorJSON(c, http.StatusNotFound, "not_found", err)
		default:
			h.log.Error("cancel order", zap.String("order_id", orderID), zap.Error(err))
			errorJSON(c, http.StatusInternalServerError, "cancel_failed", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.OrderID, "status": order.Status})
}

func parseCents(raw string) (int64, error) {
	d, err := money.Parse(raw)
	if err != nil {
		return 0, err
	}
	return money.ToCents(d)
}
