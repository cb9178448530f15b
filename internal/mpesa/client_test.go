package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:     srv.URL,
		Token:       "tok-123",
		ShortCode:   "174379",
		Passkey:     "passkey",
		CallbackURL: "https://api.example.com/mpesa/callback/",
	}, srv.Client(), nil)
	c.nowFunc = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return c, &calls
}

func chargeRequest(amount string) payments.ChargeRequest {
	return payments.ChargeRequest{OrderID: "42", Phone: "254712345678", Amount: decimal.RequireFromString(amount)}
}

func TestSubmitCharge_Accepted(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, stkPushPath, r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var body stkPushRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "500", body.Amount)
		assert.Equal(t, "254712345678", body.PhoneNumber)
		assert.Equal(t, "20240301123000", body.Timestamp)
		assert.Equal(t, Password("174379", "passkey", "20240301123000"), body.Password)
		assert.Equal(t, "https://api.example.com/mpesa/callback/42", body.CallBackURL)
		assert.Equal(t, "42", body.AccountReference)

		_ = json.NewEncoder(w).Encode(stkPushResponse{
			MerchantRequestID: "m-1",
			CheckoutRequestID: "ws_CO_0103202409300001",
			ResponseCode:      "0",
		})
	})

	ref, err := c.SubmitCharge(context.Background(), chargeRequest("500.00"))
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_0103202409300001", ref)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestSubmitCharge_RejectedIsNotRetried(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(stkPushResponse{
			RequestID:    "r-1",
			ErrorCode:    "400.002.02",
			ErrorMessage: "Bad Request - Invalid PhoneNumber",
		})
	})

	_, err := c.SubmitCharge(context.Background(), chargeRequest("500"))
	var pr *payments.ProviderRejectedError
	require.True(t, errors.As(err, &pr), "expected ProviderRejectedError, got %v", err)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", pr.Detail)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestSubmitCharge_NonZeroResponseCode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stkPushResponse{ResponseCode: "1", ResponseDescription: "Rejected by system"})
	})

	_, err := c.SubmitCharge(context.Background(), chargeRequest("500"))
	var pr *payments.ProviderRejectedError
	require.ErrorAs(t, err, &pr)
	assert.Equal(t, "Rejected by system", pr.Detail)
}

func TestSubmitCharge_GarbageResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.SubmitCharge(context.Background(), chargeRequest("500"))
	var pr *payments.ProviderRejectedError
	require.ErrorAs(t, err, &pr)
	assert.Contains(t, pr.Detail, "502")
}

func TestSubmitCharge_FractionalAmountNeverSent(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request")
	})

	_, err := c.SubmitCharge(context.Background(), chargeRequest("500.50"))
	var pr *payments.ProviderRejectedError
	require.ErrorAs(t, err, &pr)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestSubmitCharge_Unreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil, nil)

	_, err := c.SubmitCharge(context.Background(), chargeRequest("500"))
	var pr *payments.ProviderRejectedError
	require.ErrorAs(t, err, &pr)
	assert.Equal(t, "payment provider unreachable", pr.Detail)
}

func TestSubmitCharge_ThrottleHonoursContext(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stkPushResponse{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"})
	})
	c.limiter = newLimiterForTest(0.01)

	_, err := c.SubmitCharge(context.Background(), chargeRequest("500"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.SubmitCharge(ctx, chargeRequest("500"))
	var pr *payments.ProviderRejectedError
	require.ErrorAs(t, err, &pr)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}
