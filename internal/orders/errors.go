package orders

import "errors"

var (
	// ErrNotFound is returned when the order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrPreconditionFailed is returned when a conditional mutation no longer holds.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrAlreadyExists is returned by Create for a duplicate order id.
	ErrAlreadyExists = errors.New("order already exists")
)
