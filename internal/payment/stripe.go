package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"checkout-service/config"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProcessor implements Processor on top of the Stripe API
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProcessor creates a processor using the default Stripe backends
func NewStripeProcessor(cfg config.PaymentConfig) *StripeProcessor {
	return NewStripeProcessorWithBackends(cfg, nil)
}

// NewStripeProcessorWithBackends creates a processor with custom backends,
// used to point the client at a local server.
func NewStripeProcessorWithBackends(cfg config.PaymentConfig, backends *stripe.Backends) *StripeProcessor {
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &StripeProcessor{api: api, webhookSecret: cfg.WebhookSecret}
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, in SessionParams) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	if in.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(in.CouponID)}}
	}
	for _, line := range in.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(line.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(in.Currency),
				UnitAmount: stripe.Int64(line.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
		})
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapStripeError("create checkout session", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProcessor) CreateCoupon(ctx context.Context, in CouponParams) (*Coupon, error) {
	params := &stripe.CouponParams{
		Duration:   stripe.String(string(stripe.CouponDurationOnce)),
		Currency:   stripe.String(in.Currency),
		PercentOff: stripe.Float64(in.PercentOff),
	}
	params.Context = ctx

	c, err := p.api.Coupons.New(params)
	if err != nil {
		return nil, wrapStripeError("create coupon", err)
	}
	return &Coupon{ID: c.ID}, nil
}

func (p *StripeProcessor) CreatePaymentMethod(ctx context.Context, cardToken string) (string, error) {
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{Token: stripe.String(cardToken)},
	}
	params.Context = ctx

	pm, err := p.api.PaymentMethods.New(params)
	if err != nil {
		return "", wrapStripeError("create payment method", err)
	}
	return pm.ID, nil
}

func (p *StripeProcessor) CreatePaymentIntent(ctx context.Context, in IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if in.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(in.PaymentMethodID)
	}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapStripeError("create payment intent", err)
	}
	return toIntent(pi), nil
}

func (p *StripeProcessor) RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, wrapStripeError("retrieve payment intent", err)
	}
	return toIntent(pi), nil
}

func (p *StripeProcessor) ConfirmPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		return nil, wrapStripeError("confirm payment intent", err)
	}
	return toIntent(pi), nil
}

func (p *StripeProcessor) CreateRefund(ctx context.Context, intentID string) (*Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, wrapStripeError("create refund", err)
	}
	return &Refund{ID: r.ID, IntentID: intentID, Status: string(r.Status), Amount: r.Amount}, nil
}

func (p *StripeProcessor) ConstructEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if string(event.Type) != EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrUnsupportedEvent, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: event %s carries an unreadable checkout session: %v", ErrUnsupportedEvent, event.ID, err)
	}

	return &Event{ID: event.ID, Type: string(event.Type), Metadata: session.Metadata}, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
	}
}

// wrapStripeError sorts processor failures into rejected (4xx) and unavailable (everything else)
func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
		return fmt.Errorf("%s: %w: %s", op, ErrProcessorRejected, stripeErr.Msg)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrProcessorUnavailable, err)
}
