package payment

import (
	"context"
	"errors"
)

var (
	// ErrInvalidPaymentState is returned when an intent is not in the status an operation requires
	ErrInvalidPaymentState = errors.New("payment intent is not in the required state")
	// ErrInvalidSignature is returned when a webhook payload cannot be authenticated
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnsupportedEvent is returned for authentic webhook events this service does not act on
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	// ErrProcessorUnavailable is returned when the processor cannot be reached or fails server side
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	// ErrProcessorRejected is returned when the processor refuses a request
	ErrProcessorRejected = errors.New("payment processor rejected the request")
)

// Intent statuses the orchestrator cares about
const (
	IntentStatusRequiresConfirmation = "requires_confirmation"
	IntentStatusSucceeded            = "succeeded"
	IntentStatusCanceled             = "canceled"
)

// EventCheckoutCompleted is the only webhook event that drives order state
const EventCheckoutCompleted = "checkout.session.completed"

// MetadataOrderID is the session metadata key carrying the order id
const MetadataOrderID = "orderId"

type LineItem struct {
	Name       string
	Quantity   int64
	UnitAmount int64
}

type SessionParams struct {
	CustomerEmail string
	Currency      string
	SuccessURL    string
	CancelURL     string
	CouponID      string
	Lines         []LineItem
	Metadata      map[string]string
}

type Session struct {
	ID  string
	URL string
}

type CouponParams struct {
	PercentOff float64
	Currency   string
}

type Coupon struct {
	ID string
}

type IntentParams struct {
	Amount          int64
	Currency        string
	PaymentMethodID string
}

type Intent struct {
	ID       string
	Status   string
	Amount   int64
	Currency string
}

type Refund struct {
	ID       string
	IntentID string
	Status   string
	Amount   int64
}

// Event is a verified webhook event reduced to what order reconciliation needs
type Event struct {
	ID       string
	Type     string
	Metadata map[string]string
}

// Processor is the narrow surface of the external payment processor
type Processor interface {
	CreateCheckoutSession(ctx context.Context, params SessionParams) (*Session, error)
	CreateCoupon(ctx context.Context, params CouponParams) (*Coupon, error)
	CreatePaymentMethod(ctx context.Context, cardToken string) (string, error)
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error)
	ConfirmPaymentIntent(ctx context.Context, id string) (*Intent, error)
	CreateRefund(ctx context.Context, intentID string) (*Refund, error)
	// ConstructEvent verifies the signature header against the raw payload
	// before decoding anything.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}
