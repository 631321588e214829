package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/payment/paymenttest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCashOrderIsPlaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.product(t, "40.00", "10", 5)
	b := f.product(t, "15.50", "0", 3)
	f.addToCart(t, 1, a, 2)
	f.addToCart(t, 1, b, 1)

	order, err := f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "12 Nile St", Phone: "0100"})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPlaced, order.Status)
	assert.Equal(t, models.PaymentMethodCash, order.PaymentMethod)
	assert.Len(t, order.Code, 8)
	assert.Equal(t, "87.50", order.Total.StringFixed(2))
	assert.Equal(t, "87.50", order.Subtotal.StringFixed(2))
	assert.Equal(t, 3, f.store.Stock(a.ID))
	assert.Equal(t, 2, f.store.Stock(b.ID))

	_, err = f.carts.Get(ctx, 1)
	assert.ErrorIs(t, err, models.ErrCartNotFound)
	assert.Equal(t, []int64{order.ID}, f.notifier.created)
}

func TestCreateFreezesCatalogData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "40.00", "10", 5)
	f.addToCart(t, 1, p, 2)

	order, err := f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "a", Phone: "b"})
	require.NoError(t, err)

	f.store.SetPrice(p.ID, "99.00", "0")

	got, err := f.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "36.00", got.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "72.00", got.Items[0].FinalPrice.StringFixed(2))
	assert.Equal(t, "72.00", got.Total.StringFixed(2))
}

func TestCreateCardOrderIsPending(t *testing.T) {
	f := newFixture(t)
	order, _ := f.cardOrder(t, 1, 2)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "a", Phone: "b"})
	assert.ErrorIs(t, err, models.ErrEmptyCart)
	assert.Equal(t, KindValidation, Classify(err))

	p := f.product(t, "10.00", "0", 5)
	f.addToCart(t, 1, p, 1)
	_, err = f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "a", Phone: "b", PaymentMethod: "crypto"})
	assert.ErrorIs(t, err, models.ErrInvalidPaymentMethod)
	assert.Equal(t, 5, f.store.Stock(p.ID))
}

func TestCreateFailsWithoutPartialReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.product(t, "10.00", "0", 5)
	b := f.product(t, "10.00", "0", 2)
	f.addToCart(t, 1, a, 4)
	f.addToCart(t, 1, b, 2)

	// another buyer takes the last units of b after the cart was filled
	_, err := f.ledger.Reserve(ctx, b.ID, 1)
	require.NoError(t, err)

	before := f.store.Stock(a.ID) + f.store.Stock(b.ID)
	_, err = f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "a", Phone: "b"})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, before, f.store.Stock(a.ID)+f.store.Stock(b.ID))
	assert.Equal(t, 5, f.store.Stock(a.ID))

	orders, err := f.orders.ListOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = f.carts.Get(ctx, 1)
	assert.NoError(t, err)
}

func TestCreateWhileLockedIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", "0", 5)
	f.addToCart(t, 1, p, 1)

	_, ok, err := f.store.AcquireLock(ctx, "order-create:1", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "a", Phone: "b"})
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, KindConflict, Classify(err))
	assert.Equal(t, 5, f.store.Stock(p.ID))
}

func TestCancelIsSingleFire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", "0", 5)
	f.addToCart(t, 1, p, 3)
	order, err := f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "a", Phone: "b"})
	require.NoError(t, err)
	require.Equal(t, 2, f.store.Stock(p.ID))

	result, err := f.orders.Cancel(ctx, 1, order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, result.Order.Status)
	assert.Equal(t, "changed my mind", result.Order.CancelReason)
	assert.NoError(t, result.RefundErr)
	assert.Equal(t, 5, f.store.Stock(p.ID))

	_, err = f.orders.Cancel(ctx, 1, order.ID, "again")
	assert.ErrorIs(t, err, models.ErrNotEligible)
	assert.Equal(t, 5, f.store.Stock(p.ID))
}

func TestCancelOtherOwnersOrderIsNotFound(t *testing.T) {
	f := newFixture(t)
	order, _ := f.cardOrder(t, 1, 1)

	_, err := f.orders.Cancel(context.Background(), 2, order.ID, "")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	assert.Equal(t, models.OrderStatusPending, f.status(t, order.ID))
}

func TestCancelPaidCardOrderRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, p := f.cardOrder(t, 1, 2)

	_, err := f.orders.Checkout(ctx, 1, "buyer@shop.test", order.ID)
	require.NoError(t, err)
	res, err := f.orders.HandleWebhook(ctx, paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, order.ID), paymenttest.Signature)
	require.NoError(t, err)
	require.Equal(t, WebhookPlaced, res.Outcome)

	result, err := f.orders.Cancel(ctx, 1, order.ID, "")
	require.NoError(t, err)
	assert.NoError(t, result.RefundErr)
	assert.Equal(t, 1, f.processor.RefundCount())
	assert.Equal(t, 10, f.store.Stock(p.ID))
}

func TestCancelSurvivesRefundFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, p := f.cardOrder(t, 1, 2)

	_, err := f.orders.Checkout(ctx, 1, "buyer@shop.test", order.ID)
	require.NoError(t, err)
	_, err = f.orders.HandleWebhook(ctx, paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, order.ID), paymenttest.Signature)
	require.NoError(t, err)

	f.processor.FailRefund = errors.New("processor timeout")

	result, err := f.orders.Cancel(ctx, 1, order.ID, "")
	require.NoError(t, err)
	assert.Error(t, result.RefundErr)
	assert.Equal(t, models.OrderStatusCanceled, f.status(t, order.ID))
	assert.Equal(t, 10, f.store.Stock(p.ID))
}

func TestCancelPendingCardOrderReportsUnrefundableIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, p := f.cardOrder(t, 1, 2)

	_, err := f.orders.Checkout(ctx, 1, "buyer@shop.test", order.ID)
	require.NoError(t, err)

	result, err := f.orders.Cancel(ctx, 1, order.ID, "")
	require.NoError(t, err)
	assert.ErrorIs(t, result.RefundErr, payment.ErrInvalidPaymentState)
	assert.Equal(t, models.OrderStatusCanceled, result.Order.Status)
	assert.Equal(t, 10, f.store.Stock(p.ID))
}

func TestCheckoutBuildsSessionCouponAndIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.cardOrder(t, 1, 2)

	_, err := f.orders.ApplyDiscount(ctx, 1, order.ID, decimal.NewFromInt(10))
	require.NoError(t, err)

	url, err := f.orders.Checkout(ctx, 1, "buyer@shop.test", order.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	require.Len(t, f.processor.Coupons, 1)
	assert.Equal(t, 10.0, f.processor.Coupons[0].PercentOff)

	require.Len(t, f.processor.Sessions, 1)
	session := f.processor.Sessions[0]
	assert.Equal(t, "buyer@shop.test", session.CustomerEmail)
	assert.NotEmpty(t, session.CouponID)
	assert.Equal(t, []payment.LineItem{{Name: "Ceramic mug", Quantity: 2, UnitAmount: 3600}}, session.Lines)

	got, err := f.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.IntentID)
	assert.Equal(t, models.OrderStatusPending, got.Status)

	intent, err := f.payments.RetrievePaymentIntent(ctx, got.IntentID)
	require.NoError(t, err)
	// 72.00 less 10%
	assert.Equal(t, int64(6480), intent.Amount)
	assert.Equal(t, "egp", intent.Currency)
}

func TestCheckoutWithoutDiscountSkipsCoupon(t *testing.T) {
	f := newFixture(t)
	order, _ := f.cardOrder(t, 1, 1)

	_, err := f.orders.Checkout(context.Background(), 1, "", order.ID)
	require.NoError(t, err)
	assert.Empty(t, f.processor.Coupons)
	assert.Empty(t, f.processor.Sessions[0].CouponID)
}

func TestCheckoutRequiresPendingCardOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", "0", 5)
	f.addToCart(t, 1, p, 1)
	cash, err := f.orders.Create(ctx, 1, &CreateOrderRequest{Address: "a", Phone: "b"})
	require.NoError(t, err)

	_, err = f.orders.Checkout(ctx, 1, "", cash.ID)
	assert.ErrorIs(t, err, models.ErrNotEligible)
	assert.Empty(t, f.processor.Sessions)
}

func TestWebhookIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.cardOrder(t, 1, 1)
	_, err := f.orders.Checkout(ctx, 1, "", order.ID)
	require.NoError(t, err)

	body := paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, order.ID)

	res, err := f.orders.HandleWebhook(ctx, body, paymenttest.Signature)
	require.NoError(t, err)
	assert.Equal(t, WebhookPlaced, res.Outcome)

	res, err = f.orders.HandleWebhook(ctx, body, paymenttest.Signature)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Outcome)

	// a redelivery under a new event id is caught by the status guard
	res, err = f.orders.HandleWebhook(ctx, paymenttest.EventPayload("evt_2", payment.EventCheckoutCompleted, order.ID), paymenttest.Signature)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Outcome)

	got, err := f.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPlaced, got.Status)
	assert.NotNil(t, got.PaidAt)
	assert.Equal(t, 1, f.processor.ConfirmCount())
	assert.Equal(t, []string{"pending->placed"}, f.notifier.statuses)
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	order, _ := f.cardOrder(t, 1, 1)

	_, err := f.orders.HandleWebhook(context.Background(),
		paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, order.ID), "forged")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Equal(t, KindExternal, Classify(err))
	assert.Equal(t, models.OrderStatusPending, f.status(t, order.ID))
}

func TestWebhookAnomaliesAreIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.cardOrder(t, 1, 1)
	_, err := f.orders.Cancel(ctx, 1, order.ID, "")
	require.NoError(t, err)

	res, err := f.orders.HandleWebhook(ctx, paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, order.ID), paymenttest.Signature)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)
	assert.Equal(t, models.OrderStatusCanceled, f.status(t, order.ID))

	res, err = f.orders.HandleWebhook(ctx, paymenttest.EventPayload("evt_2", payment.EventCheckoutCompleted, 424242), paymenttest.Signature)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)

	res, err = f.orders.HandleWebhook(ctx, paymenttest.EventPayload("evt_3", "charge.refunded", order.ID), paymenttest.Signature)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)
}

func TestWebhookConfirmFailureKeepsOrderPlaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.cardOrder(t, 1, 1)
	_, err := f.orders.Checkout(ctx, 1, "", order.ID)
	require.NoError(t, err)
	f.processor.FailConfirm = payment.ErrProcessorUnavailable

	res, err := f.orders.HandleWebhook(ctx, paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, order.ID), paymenttest.Signature)
	require.NoError(t, err)
	assert.Equal(t, WebhookPlaced, res.Outcome)
	assert.Equal(t, models.OrderStatusPlaced, f.status(t, order.ID))
}

func TestCancelRacingWebhookHasOneOutcome(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()
		order, p := f.cardOrder(t, 1, 3)
		_, err := f.orders.Checkout(ctx, 1, "", order.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.orders.Cancel(ctx, 1, order.ID, "race")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.orders.HandleWebhook(ctx,
				paymenttest.EventPayload("evt_race", payment.EventCheckoutCompleted, order.ID), paymenttest.Signature)
		}()
		wg.Wait()

		switch f.status(t, order.ID) {
		case models.OrderStatusPlaced:
			assert.Equal(t, 7, f.store.Stock(p.ID), "placed order must keep its stock")
		case models.OrderStatusCanceled:
			assert.Equal(t, 10, f.store.Stock(p.ID), "canceled order must restore stock exactly once")
		default:
			t.Fatalf("unexpected status %s", f.status(t, order.ID))
		}
	}
}

func TestApplyDiscountRecomputesSubtotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.cardOrder(t, 1, 2)

	updated, err := f.orders.ApplyDiscount(ctx, 1, order.ID, decimal.NewFromInt(25))
	require.NoError(t, err)
	assert.Equal(t, "54.00", updated.Subtotal.StringFixed(2))

	got, err := f.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "54.00", got.Subtotal.StringFixed(2))
	assert.Equal(t, "72.00", got.Total.StringFixed(2))

	_, err = f.orders.ApplyDiscount(ctx, 1, order.ID, decimal.NewFromInt(150))
	assert.ErrorIs(t, err, models.ErrInvalidDiscount)
	_, err = f.orders.ApplyDiscount(ctx, 1, order.ID, decimal.RequireFromString("12.345"))
	assert.ErrorIs(t, err, models.ErrInvalidDiscount)

	got, err = f.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "25", got.Discount.String())
	assert.True(t, got.Subtotal.Equal(models.RecomputeSubtotal(got.Total, got.Discount)))

	_, err = f.orders.Cancel(ctx, 1, order.ID, "")
	require.NoError(t, err)
	_, err = f.orders.ApplyDiscount(ctx, 1, order.ID, decimal.NewFromInt(5))
	assert.ErrorIs(t, err, models.ErrNotEligible)
}

func TestArchiveAndUnarchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.cardOrder(t, 1, 1)

	assert.ErrorIs(t, f.orders.Archive(ctx, 2, order.ID), models.ErrOrderNotFound)
	require.NoError(t, f.orders.Archive(ctx, 1, order.ID))

	_, err := f.orders.GetOrder(ctx, 1, order.ID)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	orders, err := f.orders.ListOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)

	restored, err := f.orders.Unarchive(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.NotNil(t, restored.RestoredAt)
	assert.Nil(t, restored.FrozenAt)

	_, err = f.orders.Unarchive(ctx, 1, order.ID)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
