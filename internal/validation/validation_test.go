package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		CustomerID: "cust-123",
		Items: []Item{
			{MealID: "ugali-beef", Quantity: 2, UnitPrice: "200.00"},
			{MealID: "chai", Quantity: 1, UnitPrice: "100"},
		},
		Amount: "500.00",
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateOrderRequest_InvalidAmountMismatch(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		CustomerID: "cust-123",
		Items:      []Item{{MealID: "chai", Quantity: 1, UnitPrice: "100.00"}},
		Amount:     "99.99",
	}

	err := v.Struct(req)
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || ve[0].Tag() != "amount_match_items" {
		t.Fatalf("expected amount_match_items error, got %v", err)
	}
}

func TestCreateOrderRequest_FractionalTotal(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		CustomerID: "cust-123",
		Items:      []Item{{MealID: "mandazi", Quantity: 1, UnitPrice: "499.50"}},
		Amount:     "499.50",
	}

	err := v.Struct(req)
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || ve[0].Tag() != "whole_shillings" {
		t.Fatalf("expected whole_shillings error, got %v", err)
	}

	// cents on items are fine when the total is whole
	req.Items = []Item{{MealID: "mandazi", Quantity: 2, UnitPrice: "249.50"}}
	req.Amount = "499"
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestCreateOrderRequest_AmountAboveMax(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		CustomerID: "cust-123",
		Items:      []Item{{MealID: "feast", Quantity: 1, UnitPrice: "92233720368547758.08"}},
		Amount:     "92233720368547758.08",
	}

	err := v.Struct(req)
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	tags := map[string]bool{}
	for _, fe := range ve {
		tags[fe.Tag()] = true
	}
	if !tags["kes_amount"] {
		t.Fatalf("expected kes_amount error, got %v", err)
	}
}

func TestCreateOrderRequest_MissingFields(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		Items:  []Item{},
		Amount: "",
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}

func TestInitiatePaymentRequest(t *testing.T) {
	v := New()

	cases := []struct {
		name  string
		req   InitiatePaymentRequest
		valid bool
	}{
		{"local format", InitiatePaymentRequest{Phone: "0712345678", Amount: "500.00"}, true},
		{"international format", InitiatePaymentRequest{Phone: "+254 712 345 678", Amount: "500"}, true},
		{"bare subscriber number", InitiatePaymentRequest{Phone: "712345678", Amount: "1"}, true},
		{"short phone", InitiatePaymentRequest{Phone: "07123", Amount: "500"}, false},
		{"zero amount", InitiatePaymentRequest{Phone: "0712345678", Amount: "0"}, false},
		{"three decimals", InitiatePaymentRequest{Phone: "0712345678", Amount: "1.005"}, false},
		{"not a number", InitiatePaymentRequest{Phone: "0712345678", Amount: "five"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Struct(tc.req)
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestBindAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	cases := []struct {
		name   string
		body   string
		status int
		errKey string
	}{
		{"malformed json", `{"phone":`, http.StatusBadRequest, "invalid_request_body"},
		{"bad phone", `{"phone":"123","amount":"500"}`, http.StatusBadRequest, "validation_failed"},
		{"ok", `{"phone":"0712345678","amount":"500"}`, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req InitiatePaymentRequest
			err := BindAndValidate(c, &req, v)
			if tc.errKey == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if w.Code != tc.status || !strings.Contains(w.Body.String(), tc.errKey) {
				t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
			}
		})
	}
}
