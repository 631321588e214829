package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment/paymenttest"
	"checkout-service/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	stock    [][]models.StockLevel
	created  []int64
	statuses []string
}

func (n *recordingNotifier) StockChanged(_ context.Context, levels []models.StockLevel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stock = append(n.stock, levels)
}

func (n *recordingNotifier) OrderCreated(_ context.Context, order *models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, order.ID)
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, order *models.Order, from string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, from+"->"+order.Status)
}

type fixture struct {
	store     *memstore.Store
	processor *paymenttest.Processor
	notifier  *recordingNotifier
	carts     *CartService
	ledger    *InventoryLedger
	payments  *PaymentService
	orders    *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	processor := paymenttest.New()
	notifier := &recordingNotifier{}

	carts := NewCartService(st, st)
	ledger := NewInventoryLedger(st, notifier)
	payments := NewPaymentService(processor)
	orders := NewOrderService(st, st, carts, ledger, payments, st, st, notifier, OrderOptions{
		Currency:           "egp",
		SuccessURL:         "https://shop.test/success",
		CancelURL:          "https://shop.test/cancel",
		PaymentMethodToken: "tok_visa",
		CreateLockTTL:      time.Minute,
		WebhookDedupTTL:    time.Hour,
	})

	return &fixture{
		store:     st,
		processor: processor,
		notifier:  notifier,
		carts:     carts,
		ledger:    ledger,
		payments:  payments,
		orders:    orders,
	}
}

func (f *fixture) product(t *testing.T, price, discount string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:            "Ceramic mug",
		OriginalPrice:   decimal.RequireFromString(price),
		DiscountPercent: decimal.RequireFromString(discount),
		Stock:           stock,
	}
	require.NoError(t, f.store.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) addToCart(t *testing.T, ownerID int64, product *models.Product, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), ownerID, &AddItemRequest{ProductID: product.ID, Quantity: qty})
	require.NoError(t, err)
}

// cardOrder creates a pending card order for ownerID holding qty units of a fresh product
func (f *fixture) cardOrder(t *testing.T, ownerID int64, qty int) (*models.Order, *models.Product) {
	t.Helper()
	p := f.product(t, "40.00", "10", 10)
	f.addToCart(t, ownerID, p, qty)
	order, err := f.orders.Create(context.Background(), ownerID, &CreateOrderRequest{
		Address:       "12 Nile St",
		Phone:         "01012345678",
		PaymentMethod: models.PaymentMethodCard,
	})
	require.NoError(t, err)
	return order, p
}

func (f *fixture) status(t *testing.T, orderID int64) string {
	t.Helper()
	order, err := f.store.GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}
