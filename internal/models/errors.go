package models

import "errors"

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrCartNotFound         = errors.New("cart not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidQuantity      = errors.New("quantity must be greater than zero")
	ErrInvalidDiscount      = errors.New("discount must be between 0 and 100")
	ErrInvalidPaymentMethod = errors.New("payment method must be cash or card")

	// ErrNotEligible means a conditional write matched no row: the order is
	// not in a status that allows the requested transition.
	ErrNotEligible = errors.New("order not eligible for this operation")

	// ErrConflict means a concurrent operation on the same resource is in progress.
	ErrConflict = errors.New("concurrent operation in progress")
)
