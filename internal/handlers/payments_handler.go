package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/money"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/mpesa"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/validation"
)

func (h *handler) initiatePayment(c *gin.Context) {
	orderID := c.Param("id")

	var req validation.InitiatePaymentRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_amount", &payments.ValidationError{Reason: err.Error(), Err: payments.ErrInvalidAmount})
		return
	}

	attempt, err := h.svc.Initiate(c.Request.Context(), orderID, req.Phone, amount)
	if err != nil {
		status, code := initiateStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error("initiate payment", zap.String("order_id", orderID),
				zap.String("correlation_id", correlationID(c)), zap.Error(err))
		}
		errorJSON(c, status, code, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"order_id":        attempt.OrderID,
		"phone":           attempt.Phone,
		"amount":          money.Format(attempt.Amount),
		"status":          "processing",
		"transaction_ref": attempt.TransactionRef,
		"message":         "Check your phone to complete the M-Pesa payment.",
	})
}

func initiateStatus(err error) (int, string) {
	var rejected *payments.ProviderRejectedError
	switch {
	case errors.Is(err, payments.ErrAttemptInFlight):
		return http.StatusConflict, "attempt_in_flight"
	case errors.Is(err, payments.ErrNotPayable):
		return http.StatusConflict, "not_payable"
	case errors.Is(err, payments.ErrInvalidPhone):
		return http.StatusBadRequest, "invalid_phone"
	case errors.Is(err, payments.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, payments.ErrAmountMismatch):
		return http.StatusBadRequest, "amount_mismatch"
	case errors.As(err, &rejected):
		return http.StatusBadGateway, "provider_rejected"
	case errors.Is(err, payments.ErrNotFound):
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "initiate_failed"
}

// darajaAck is the body Daraja expects back from a callback URL.
var darajaAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

// mpesaCallback hands a provider result to the worker queue, or applies it
// directly when no queue is configured.
func (h *handler) mpesaCallback(c *gin.Context) {
	orderID := c.Param("id")
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}
	res, err := mpesa.ParseCallback(raw)
	if err != nil {
		h.log.Warn("rejecting callback", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_callback"})
		return
	}

	msg := payments.CallbackResult{
		OrderID:        orderID,
		TransactionRef: res.CheckoutRequestID,
		ResultCode:     res.ResultCode,
		ResultDesc:     res.ResultDesc,
		ReceiptNumber:  res.ReceiptNumber,
		CorrelationID:  correlationID(c),
	}
	log := h.log.With(zap.String("order_id", orderID),
		zap.String("transaction_ref", msg.TransactionRef), zap.Int("result_code", msg.ResultCode))

	if h.callbacks != nil {
		err := h.callbacks.SendJSON(c.Request.Context(), msg, map[string]string{
			"order_id":       orderID,
			"correlation_id": msg.CorrelationID,
		})
		if err != nil {
			// a non-2xx makes the provider redeliver
			log.Error("enqueue callback", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enqueue_failed"})
			return
		}
		log.Info("callback enqueued")
		c.JSON(http.StatusOK, darajaAck)
		return
	}

	applied, err := payments.ApplyCallback(c.Request.Context(), h.store, msg)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			log.Warn("callback for unknown order")
			c.JSON(http.StatusOK, darajaAck)
			return
		}
		log.Error("apply callback", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "apply_failed"})
		return
	}
	if applied == payments.AppliedPaidAfterCancel {
		log.Warn("payment completed on a cancelled order, refund required",
			zap.String("receipt", msg.ReceiptNumber))
	} else {
		log.Info("callback applied", zap.String("applied", string(applied)))
	}
	c.JSON(http.StatusOK, darajaAck)
}
