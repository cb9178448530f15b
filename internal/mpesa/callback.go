package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResultSuccess is the ResultCode of a completed STK push.
const ResultSuccess = 0

var ErrMalformedCallback = errors.New("malformed stk callback")

// CallbackEnvelope is the body Daraja POSTs to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// Result is a decoded callback, reduced to what the order store needs.
type Result struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Phone             string
}

// Succeeded reports whether the customer completed the payment.
func (r Result) Succeeded() bool { return r.ResultCode == ResultSuccess }

// ParseCallback decodes a Daraja callback body.
func ParseCallback(raw []byte) (Result, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return Result{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}

	res := Result{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CallbackMetadata != nil {
		for _, it := range cb.CallbackMetadata.Item {
			switch it.Name {
			case "MpesaReceiptNumber":
				res.ReceiptNumber = metadataString(it.Value)
			case "PhoneNumber":
				res.Phone = metadataString(it.Value)
			}
		}
	}
	return res, nil
}

// metadataString renders a metadata value that may be a JSON string or number.
func metadataString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return string(v)
}
