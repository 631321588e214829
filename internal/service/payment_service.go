package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/payment"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService wraps the payment processor with state preconditions,
// metrics and tracing.
type PaymentService struct {
	processor payment.Processor
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(processor payment.Processor) *PaymentService {
	return &PaymentService{
		processor: processor,
		logger:    util.GetLogger(),
	}
}

// observe records the outcome and latency of one processor call
func observe(operation string, start time.Time, err error) {
	util.PaymentProcessingLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	util.PaymentCallsTotal.WithLabelValues(operation, result).Inc()
}

func (ps *PaymentService) CreateCheckoutSession(ctx context.Context, params payment.SessionParams) (session *payment.Session, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateCheckoutSession")
	defer span.End()
	defer func(start time.Time) { observe("create_checkout_session", start, err) }(time.Now())

	session, err = ps.processor.CreateCheckoutSession(ctx, params)
	util.SpanError(span, err)
	return session, err
}

func (ps *PaymentService) CreateCoupon(ctx context.Context, params payment.CouponParams) (coupon *payment.Coupon, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateCoupon")
	defer span.End()
	defer func(start time.Time) { observe("create_coupon", start, err) }(time.Now())

	coupon, err = ps.processor.CreateCoupon(ctx, params)
	util.SpanError(span, err)
	return coupon, err
}

func (ps *PaymentService) CreatePaymentMethod(ctx context.Context, cardToken string) (id string, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentMethod")
	defer span.End()
	defer func(start time.Time) { observe("create_payment_method", start, err) }(time.Now())

	id, err = ps.processor.CreatePaymentMethod(ctx, cardToken)
	util.SpanError(span, err)
	return id, err
}

func (ps *PaymentService) CreatePaymentIntent(ctx context.Context, params payment.IntentParams) (intent *payment.Intent, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentIntent")
	defer span.End()
	defer func(start time.Time) { observe("create_payment_intent", start, err) }(time.Now())

	intent, err = ps.processor.CreatePaymentIntent(ctx, params)
	util.SpanError(span, err)
	return intent, err
}

// RetrievePaymentIntent always asks the processor; intent status is never cached
func (ps *PaymentService) RetrievePaymentIntent(ctx context.Context, id string) (intent *payment.Intent, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RetrievePaymentIntent")
	defer span.End()
	defer func(start time.Time) { observe("retrieve_payment_intent", start, err) }(time.Now())

	intent, err = ps.processor.RetrievePaymentIntent(ctx, id)
	util.SpanError(span, err)
	return intent, err
}

// ConfirmPaymentIntent confirms an intent that is waiting for confirmation
func (ps *PaymentService) ConfirmPaymentIntent(ctx context.Context, id string) (*payment.Intent, error) {
	intent, err := ps.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status != payment.IntentStatusRequiresConfirmation {
		return nil, fmt.Errorf("%w: confirm intent %s in status %s",
			payment.ErrInvalidPaymentState, id, intent.Status)
	}

	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPaymentIntent")
	defer span.End()
	start := time.Now()

	confirmed, err := ps.processor.ConfirmPaymentIntent(ctx, id)
	observe("confirm_payment_intent", start, err)
	util.SpanError(span, err)
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Payment intent confirmed",
		zap.String("intent_id", id),
		zap.String("status", confirmed.Status))
	return confirmed, nil
}

// CancelPaymentIntent refunds a collected payment. Only a succeeded intent
// can be refunded.
func (ps *PaymentService) CancelPaymentIntent(ctx context.Context, id string) (*payment.Refund, error) {
	intent, err := ps.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status != payment.IntentStatusSucceeded {
		return nil, fmt.Errorf("%w: refund intent %s in status %s",
			payment.ErrInvalidPaymentState, id, intent.Status)
	}

	ctx, span := util.StartSpan(ctx, "PaymentService.CancelPaymentIntent")
	defer span.End()
	start := time.Now()

	refund, err := ps.processor.CreateRefund(ctx, id)
	observe("create_refund", start, err)
	util.SpanError(span, err)
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Payment refunded",
		zap.String("intent_id", id),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount", refund.Amount))
	return refund, nil
}

// ParseWebhook authenticates and decodes a raw webhook delivery
func (ps *PaymentService) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	event, err := ps.processor.ConstructEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			util.WebhookEventsTotal.WithLabelValues("rejected").Inc()
			ps.logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
		}
		return nil, err
	}
	return event, nil
}
