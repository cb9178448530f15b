// Package mpesa talks to the Daraja STK push API and decodes its result
// callbacks.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

const stkPushPath = "/mpesa/stkpush/v1/processrequest"

// Config holds the merchant credentials. Token is the bearer credential
// issued for the merchant; it is passed in, never read from process state.
type Config struct {
	BaseURL     string
	Token       string
	ShortCode   string
	Passkey     string
	CallbackURL string
	Timeout     time.Duration
	// RequestsPerSecond throttles outbound charge requests. Zero disables it.
	RequestsPerSecond float64
}

// Client submits STK push charges. It implements payments.ChargeGateway and
// never retries a request.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	nowFunc func() time.Time
}

// NewClient builds a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		log:     log,
		nowFunc: time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	// error shape
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// SubmitCharge sends one STK push and returns the CheckoutRequestID, which
// later callbacks carry as the transaction reference.
func (c *Client) SubmitCharge(ctx context.Context, req payments.ChargeRequest) (string, error) {
	if !req.Amount.IsInteger() {
		return "", &payments.ProviderRejectedError{Detail: "M-Pesa accepts whole shillings only"}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &payments.ProviderRejectedError{Detail: "charge request throttled", Err: err}
		}
	}

	ts := c.nowFunc().In(nairobi).Format("20060102150405")
	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.StringFixed(0),
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       CallbackURL(c.cfg.CallbackURL, req.OrderID),
		AccountReference:  req.OrderID,
		TransactionDesc:   "Meal order " + req.OrderID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal stk push: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+stkPushPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build stk push: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &payments.ProviderRejectedError{Detail: "payment provider unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &payments.ProviderRejectedError{Detail: "payment provider response unreadable", Err: err}
	}

	var out stkPushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &payments.ProviderRejectedError{
			Detail: fmt.Sprintf("unexpected provider response (HTTP %d)", resp.StatusCode),
			Err:    err,
		}
	}

	if resp.StatusCode != http.StatusOK || out.ResponseCode != "0" {
		detail := out.ErrorMessage
		if detail == "" {
			detail = out.ResponseDescription
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		c.log.Warn("stk push rejected",
			zap.String("order_id", req.OrderID),
			zap.Int("http_status", resp.StatusCode),
			zap.String("error_code", out.ErrorCode),
			zap.String("detail", detail))
		return "", &payments.ProviderRejectedError{
			Detail: detail,
			Err:    fmt.Errorf("stk push: http %d code %q", resp.StatusCode, out.ErrorCode+out.ResponseCode),
		}
	}
	if out.CheckoutRequestID == "" {
		return "", &payments.ProviderRejectedError{Detail: "provider returned no checkout reference", Err: errors.New("empty CheckoutRequestID")}
	}

	c.log.Info("stk push accepted",
		zap.String("order_id", req.OrderID),
		zap.String("checkout_request_id", out.CheckoutRequestID),
		zap.String("merchant_request_id", out.MerchantRequestID))
	return out.CheckoutRequestID, nil
}

// CallbackURL appends the order id as the last path segment; callbacks only
// carry the CheckoutRequestID.
func CallbackURL(base, orderID string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(orderID)
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

var nairobi = time.FixedZone("EAT", 3*60*60)
