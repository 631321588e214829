package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	orderCodeLength   = 8
	orderCodeAttempts = 3
)

// OrderOptions holds the tunables of the order lifecycle
type OrderOptions struct {
	Currency           string
	SuccessURL         string
	CancelURL          string
	PaymentMethodToken string
	CreateLockTTL      time.Duration
	WebhookDedupTTL    time.Duration
}

// OrderService owns order status transitions
type OrderService struct {
	orders   OrderStore
	carts    CartStore
	snapshot *CartService
	ledger   *InventoryLedger
	payments *PaymentService
	locker   Locker
	deduper  EventDeduper
	notifier Notifier
	opts     OrderOptions
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	carts CartStore,
	snapshot *CartService,
	ledger *InventoryLedger,
	payments *PaymentService,
	locker Locker,
	deduper EventDeduper,
	notifier Notifier,
	opts OrderOptions,
) *OrderService {
	return &OrderService{
		orders:   orders,
		carts:    carts,
		snapshot: snapshot,
		ledger:   ledger,
		payments: payments,
		locker:   locker,
		deduper:  deduper,
		notifier: notifier,
		opts:     opts,
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to turn the cart into an order
type CreateOrderRequest struct {
	Address       string `json:"address" binding:"required"`
	Phone         string `json:"phone" binding:"required"`
	Note          string `json:"note"`
	PaymentMethod string `json:"payment_method"`
}

// CancelResult carries the canceled order and the outcome of the refund.
// A refund failure does not undo the cancellation.
type CancelResult struct {
	Order     *models.Order
	RefundErr error
}

// Webhook outcomes
const (
	WebhookPlaced    = "placed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// WebhookResult describes what a webhook delivery did
type WebhookResult struct {
	Outcome string `json:"outcome"`
	OrderID int64  `json:"order_id,omitempty"`
}

// Create converts the owner's cart into an order. Stock for every line is
// reserved up front; if anything fails before the order is stored, the
// reservations are given back.
func (s *OrderService) Create(ctx context.Context, ownerID int64, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Create", attribute.Int64("owner_id", ownerID))
	defer span.End()

	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCash
	}
	if _, err := models.InitialStatus(req.PaymentMethod); err != nil {
		return nil, err
	}

	release, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("locked").Inc()
		return nil, err
	}
	defer release()

	view, err := s.snapshot.Snapshot(ctx, ownerID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("cart").Inc()
		return nil, err
	}

	order, err := models.NewOrder(models.NewOrderParams{
		OwnerID:       ownerID,
		Address:       req.Address,
		Phone:         req.Phone,
		Note:          req.Note,
		PaymentMethod: req.PaymentMethod,
		Lines:         view.Lines,
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := s.ledger.ReserveAll(ctx, view.Lines); err != nil {
		util.OrdersFailedTotal.WithLabelValues("reservation_failed").Inc()
		util.SpanError(span, err)
		return nil, err
	}

	if err := s.persist(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		if restoreErr := s.ledger.RestoreAll(ctx, order.Items); restoreErr != nil {
			s.logger.Error("Stock left reserved for unsaved order",
				zap.Int64("owner_id", ownerID),
				zap.Error(restoreErr))
		}
		util.SpanError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	if err := s.carts.DeleteCart(ctx, ownerID); err != nil && !errors.Is(err, models.ErrCartNotFound) {
		s.logger.Error("Failed to delete consumed cart",
			zap.Int64("owner_id", ownerID),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	util.OrdersCreatedTotal.WithLabelValues(order.PaymentMethod).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("code", order.Code),
		zap.String("status", order.Status))
	s.notifier.OrderCreated(ctx, order)

	return order, nil
}

// persist stores the order under a fresh random code, retrying on the rare code collision
func (s *OrderService) persist(ctx context.Context, order *models.Order) error {
	var err error
	for attempt := 0; attempt < orderCodeAttempts; attempt++ {
		order.Code = uuid.NewString()[:orderCodeLength]
		err = s.orders.CreateOrder(ctx, order)
		if !errors.Is(err, models.ErrConflict) {
			return err
		}
		s.logger.Warn("Order code collision, retrying", zap.String("code", order.Code))
	}
	return err
}

// lockOwner serializes order creation per owner. If the lock service is down
// creation proceeds unlocked; stock reservation stays atomic either way.
func (s *OrderService) lockOwner(ctx context.Context, ownerID int64) (func(), error) {
	key := fmt.Sprintf("order-create:%d", ownerID)
	token, ok, err := s.locker.AcquireLock(ctx, key, s.opts.CreateLockTTL)
	if err != nil {
		s.logger.Warn("Order lock unavailable, continuing without it",
			zap.Int64("owner_id", ownerID),
			zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: order creation already running for this cart", models.ErrConflict)
	}
	return func() {
		if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release order lock", zap.Int64("owner_id", ownerID), zap.Error(err))
		}
	}, nil
}

// GetOrder returns one of the owner's orders
func (s *OrderService) GetOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CreatedBy != ownerID {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	return order, nil
}

// ListOrders returns the owner's live orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, ownerID int64) ([]models.Order, error) {
	return s.orders.GetOrdersByUserID(ctx, ownerID)
}

// Cancel moves a pending or placed order to canceled, refunds a card payment
// and gives the stock back. The transition is conditional on the status that
// was read, so a webhook confirming the order in between wins and the cancel
// fails with ErrNotEligible. Once the transition commits, the cancellation
// stands even if the refund fails; the refund error is reported in the result.
func (s *OrderService) Cancel(ctx context.Context, ownerID, orderID int64, reason string) (*CancelResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel", attribute.Int64("order_id", orderID))
	defer span.End()

	current, err := s.GetOrder(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	if !current.CanCancel() {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrNotEligible, orderID, current.Status)
	}

	order, err := s.orders.TransitionStatus(ctx, models.StatusTransition{
		OrderID:      orderID,
		From:         []string{current.Status},
		To:           models.OrderStatusCanceled,
		UpdatedBy:    &ownerID,
		CancelReason: reason,
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	util.OrdersCanceledTotal.Inc()

	// committed: refund and restock must run to the end
	ctx, cancel := detach(ctx)
	defer cancel()

	result := &CancelResult{Order: order}
	if order.IsCard() && order.IntentID != "" {
		if _, err := s.payments.CancelPaymentIntent(ctx, order.IntentID); err != nil {
			util.CompensationFailuresTotal.WithLabelValues("refund").Inc()
			s.logger.Error("Refund failed for canceled order",
				zap.Int64("order_id", orderID),
				zap.String("intent_id", order.IntentID),
				zap.Error(err))
			result.RefundErr = err
		}
	}

	if err := s.ledger.RestoreAll(ctx, order.Items); err != nil {
		s.logger.Error("Canceled order did not restore all stock",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	s.logger.Info("Order canceled",
		zap.Int64("order_id", orderID),
		zap.String("from", current.Status),
		zap.Bool("refund_failed", result.RefundErr != nil))
	s.notifier.OrderStatusChanged(ctx, order, current.Status)

	return result, nil
}

// Checkout opens a payment session for a pending card order and stores the
// payment intent on it. The order status is unchanged.
func (s *OrderService) Checkout(ctx context.Context, ownerID int64, email string, orderID int64) (string, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.GetOrder(ctx, ownerID, orderID)
	if err != nil {
		return "", err
	}
	if !order.IsCard() || order.Status != models.OrderStatusPending {
		return "", fmt.Errorf("%w: order %d is a %s order in status %s",
			models.ErrNotEligible, orderID, order.PaymentMethod, order.Status)
	}

	params := payment.SessionParams{
		CustomerEmail: email,
		Currency:      s.opts.Currency,
		SuccessURL:    s.opts.SuccessURL,
		CancelURL:     s.opts.CancelURL,
		Metadata:      map[string]string{payment.MetadataOrderID: strconv.FormatInt(order.ID, 10)},
	}
	for _, item := range order.Items {
		params.Lines = append(params.Lines, payment.LineItem{
			Name:       item.Name,
			Quantity:   int64(item.Quantity),
			UnitAmount: models.ToMinorUnits(item.UnitPrice),
		})
	}

	if order.Discount.IsPositive() {
		coupon, err := s.payments.CreateCoupon(ctx, payment.CouponParams{
			PercentOff: order.Discount.InexactFloat64(),
			Currency:   s.opts.Currency,
		})
		if err != nil {
			return "", err
		}
		params.CouponID = coupon.ID
	}

	session, err := s.payments.CreateCheckoutSession(ctx, params)
	if err != nil {
		util.SpanError(span, err)
		return "", err
	}

	methodID, err := s.payments.CreatePaymentMethod(ctx, s.opts.PaymentMethodToken)
	if err != nil {
		return "", err
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, payment.IntentParams{
		Amount:          models.ToMinorUnits(order.Subtotal),
		Currency:        s.opts.Currency,
		PaymentMethodID: methodID,
	})
	if err != nil {
		return "", err
	}

	if err := s.orders.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		util.SpanError(span, err)
		return "", err
	}

	s.logger.Info("Checkout session created",
		zap.Int64("order_id", order.ID),
		zap.String("session_id", session.ID),
		zap.String("intent_id", intent.ID))
	return session.URL, nil
}

// HandleWebhook reconciles a payment completion event with the order it names.
// Only a pending card order moves to placed; a repeated delivery for an order
// that is already placed is a success. Anything else is logged as an anomaly
// and acknowledged without a state change.
func (s *OrderService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.HandleWebhook")
	defer span.End()

	event, err := s.payments.ParseWebhook(payload, signature)
	if errors.Is(err, payment.ErrUnsupportedEvent) {
		util.WebhookEventsTotal.WithLabelValues(WebhookIgnored).Inc()
		s.logger.Info("Ignoring webhook event", zap.Error(err))
		return &WebhookResult{Outcome: WebhookIgnored}, nil
	}
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	dedupKey := "stripe-event:" + event.ID
	seen, err := s.deduper.CheckIdempotencyKey(ctx, dedupKey)
	if err != nil {
		s.logger.Warn("Webhook dedup check failed", zap.String("event_id", event.ID), zap.Error(err))
	}
	if seen {
		util.WebhookEventsTotal.WithLabelValues(WebhookDuplicate).Inc()
		return &WebhookResult{Outcome: WebhookDuplicate}, nil
	}

	orderID, err := strconv.ParseInt(event.Metadata[payment.MetadataOrderID], 10, 64)
	if err != nil {
		return s.anomaly(event, 0, "missing order id in metadata"), nil
	}
	span.SetAttributes(attribute.Int64("order_id", orderID))

	order, err := s.orders.TransitionStatus(ctx, models.StatusTransition{
		OrderID:       orderID,
		From:          []string{models.OrderStatusPending},
		To:            models.OrderStatusPlaced,
		PaymentMethod: models.PaymentMethodCard,
		MarkPaid:      true,
	})
	if errors.Is(err, models.ErrNotEligible) {
		existing, getErr := s.orders.GetOrderByID(ctx, orderID)
		if getErr == nil && existing.IsCard() && existing.Status == models.OrderStatusPlaced {
			s.remember(ctx, dedupKey, orderID)
			util.WebhookEventsTotal.WithLabelValues(WebhookDuplicate).Inc()
			return &WebhookResult{Outcome: WebhookDuplicate, OrderID: orderID}, nil
		}
		return s.anomaly(event, orderID, "no pending card order matches"), nil
	}
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	util.WebhookEventsTotal.WithLabelValues(WebhookPlaced).Inc()

	ctx, cancel := detach(ctx)
	defer cancel()
	s.remember(ctx, dedupKey, orderID)

	if order.IntentID != "" {
		if _, err := s.payments.ConfirmPaymentIntent(ctx, order.IntentID); err != nil {
			util.CompensationFailuresTotal.WithLabelValues("confirm_intent").Inc()
			s.logger.Error("Failed to confirm payment intent for placed order",
				zap.Int64("order_id", orderID),
				zap.String("intent_id", order.IntentID),
				zap.Error(err))
		}
	}

	s.logger.Info("Order placed by payment webhook",
		zap.Int64("order_id", orderID),
		zap.String("event_id", event.ID))
	s.notifier.OrderStatusChanged(ctx, order, models.OrderStatusPending)

	return &WebhookResult{Outcome: WebhookPlaced, OrderID: orderID}, nil
}

func (s *OrderService) anomaly(event *payment.Event, orderID int64, reason string) *WebhookResult {
	util.WebhookEventsTotal.WithLabelValues(WebhookIgnored).Inc()
	s.logger.Warn("Webhook did not match an order",
		zap.String("event_id", event.ID),
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))
	return &WebhookResult{Outcome: WebhookIgnored, OrderID: orderID}
}

func (s *OrderService) remember(ctx context.Context, key string, orderID int64) {
	if err := s.deduper.SetIdempotencyKey(ctx, key, orderID, s.opts.WebhookDedupTTL); err != nil {
		s.logger.Warn("Failed to record webhook event", zap.String("key", key), zap.Error(err))
	}
}

// ApplyDiscount sets the discount percentage of a pending order and recomputes its subtotal
func (s *OrderService) ApplyDiscount(ctx context.Context, ownerID, orderID int64, percent decimal.Decimal) (*models.Order, error) {
	order, err := s.GetOrder(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrNotEligible, orderID, order.Status)
	}
	if err := order.SetDiscount(percent); err != nil {
		return nil, err
	}
	order.UpdatedBy = &ownerID

	if err := s.orders.UpdatePricing(ctx, order, models.OrderStatusPending); err != nil {
		return nil, err
	}
	return order, nil
}

// Archive soft deletes one of the owner's orders
func (s *OrderService) Archive(ctx context.Context, ownerID, orderID int64) error {
	if err := s.orders.ArchiveOrder(ctx, orderID, ownerID); err != nil {
		return err
	}
	s.logger.Info("Order archived", zap.Int64("order_id", orderID))
	return nil
}

// Unarchive brings back one of the owner's archived orders
func (s *OrderService) Unarchive(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	if err := s.orders.UnarchiveOrder(ctx, orderID, ownerID); err != nil {
		return nil, err
	}
	s.logger.Info("Order restored", zap.Int64("order_id", orderID))
	return s.orders.GetOrderByID(ctx, orderID)
}
