package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/money"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

// New returns a validator with the payment field rules and the order total
// check registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("mpesa_phone", validatePhone)
	_ = v.RegisterValidation("kes_amount", validateAmount)

	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// validatePhone accepts anything NormalizePhone can reduce to 2547XXXXXXXX.
func validatePhone(fl validatorv10.FieldLevel) bool {
	_, err := payments.NormalizePhone(fl.Field().String())
	return err == nil
}

// validateAmount accepts a positive amount with at most two decimals, up to
// money.MaxAmount.
func validateAmount(fl validatorv10.FieldLevel) bool {
	d, err := money.Parse(fl.Field().String())
	return err == nil && d.IsPositive() && d.LessThanOrEqual(money.MaxAmount)
}

// createOrderStructValidation verifies the items add up to Amount exactly and
// that Amount is in whole shillings, the only unit M-Pesa charges in.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	amount, err := money.Parse(req.Amount)
	if err != nil {
		// reported by the field rule
		return
	}

	sum := decimal.Zero
	for _, it := range req.Items {
		price, err := money.Parse(it.UnitPrice)
		if err != nil {
			return
		}
		sum = sum.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	if !sum.Equal(amount) {
		sl.ReportError(req.Amount, "amount", "Amount", "amount_match_items",
			fmt.Sprintf("items sum %s != amount %s", money.Format(sum), money.Format(amount)))
		return
	}
	if !amount.IsInteger() {
		sl.ReportError(req.Amount, "amount", "Amount", "whole_shillings", money.Format(amount))
	}
}
