package validation

// Item is a single meal line on a new order.
type Item struct {
	MealID    string `json:"meal_id" validate:"required"`               // menu item id
	Quantity  int    `json:"quantity" validate:"required,min=1"`        // must be >= 1
	UnitPrice string `json:"unit_price" validate:"required,kes_amount"` // e.g. "250.00"
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Items      []Item `json:"items" validate:"required,min=1,dive"`
	Amount     string `json:"amount" validate:"required,kes_amount"` // total the client displayed
}

// InitiatePaymentRequest is the payload for POST /orders/:id/payments.
type InitiatePaymentRequest struct {
	Phone  string `json:"phone" validate:"required,mpesa_phone"`
	Amount string `json:"amount" validate:"required,kes_amount"`
}
