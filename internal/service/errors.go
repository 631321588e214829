package service

import (
	"errors"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
)

// ErrorKind groups errors by how a caller should react to them
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Classify maps an error returned by this package to its kind
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInvalidDiscount),
		errors.Is(err, models.ErrInvalidPaymentMethod),
		errors.Is(err, payment.ErrInvalidPaymentState):
		return KindValidation
	case errors.Is(err, models.ErrCartNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrOrderNotFound):
		return KindNotFound
	case errors.Is(err, models.ErrNotEligible),
		errors.Is(err, models.ErrConflict):
		return KindConflict
	case errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrUnsupportedEvent),
		errors.Is(err, payment.ErrProcessorUnavailable),
		errors.Is(err, payment.ErrProcessorRejected):
		return KindExternal
	default:
		return KindInternal
	}
}
