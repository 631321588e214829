package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/payment/paymenttest"
	"checkout-service/internal/realtime"
	"checkout-service/internal/service"
	"checkout-service/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopNotifier struct{}

func (nopNotifier) StockChanged(context.Context, []models.StockLevel) {}
func (nopNotifier) OrderCreated(context.Context, *models.Order) {}
func (nopNotifier) OrderStatusChanged(context.Context, *models.Order, string) {}

type testServer struct {
	router   *gin.Engine
	store    *memstore.Store
	registry *realtime.Registry
	handler  *Handler
}

func newTestServer(t *testing.T, checks map[string]ReadinessCheck) *testServer {
	t.Helper()
	st := memstore.New()
	carts := service.NewCartService(st, st)
	ledger := service.NewInventoryLedger(st, nopNotifier{})
	payments := service.NewPaymentService(paymenttest.New())
	orders := service.NewOrderService(st, st, carts, ledger, payments, st, st, nopNotifier{}, service.OrderOptions{
		Currency:           "egp",
		PaymentMethodToken: "tok_visa",
		CreateLockTTL:      time.Minute,
		WebhookDedupTTL:    time.Hour,
	})
	registry := realtime.NewRegistry(8)

	router := gin.New()
	h := NewHandler(orders, carts, registry, checks)
	h.SetupRoutes(router)
	return &testServer{router: router, store: st, registry: registry, handler: h}
}

func (s *testServer) do(t *testing.T, method, path string, owner int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner > 0 {
		req.Header.Set(headerUserID, fmt.Sprint(owner))
		req.Header.Set(headerUserEmail, "buyer@shop.test")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) webhook(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set(headerSignature, signature)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) product(t *testing.T, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:            "Notebook",
		OriginalPrice:   decimal.RequireFromString("25.00"),
		DiscountPercent: decimal.Zero,
		Stock:           stock,
	}
	require.NoError(t, s.store.CreateProduct(context.Background(), p))
	return p
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", 0, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", 0, nil).Code)

	down := newTestServer(t, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w := down.do(t, http.MethodGet, "/ready", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestIdentityIsRequired(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/orders", 0, nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(headerUserID, "abc")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCardOrderFlow(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product(t, 5)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", 1, service.AddItemRequest{ProductID: p.ID, Quantity: 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/cart", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.CartView
	decode(t, w, &view)
	assert.Equal(t, "50.00", view.Total.StringFixed(2))

	w = s.do(t, http.MethodPost, "/api/v1/orders", 1, service.CreateOrderRequest{
		Address: "12 Nile St", Phone: "0100", PaymentMethod: models.PaymentMethodCard,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/discount", order.ID), 1, gin.H{"discount": "20"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/checkout", order.ID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "https://checkout.test/")

	body := paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, order.ID)
	w = s.webhook(t, body, paymenttest.Signature)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.webhook(t, body, paymenttest.Signature)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), service.WebhookDuplicate)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusPlaced, order.Status)
	assert.Equal(t, "40.00", order.Subtotal.StringFixed(2))

	// other owners cannot see it
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), 2, nil).Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/orders", 1, service.CreateOrderRequest{Address: "a", Phone: "b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation")

	w = s.do(t, http.MethodPost, "/api/v1/orders", 1, gin.H{"phone": "b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/orders/nope", 1, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/99", 1, nil).Code)

	w = s.webhook(t, paymenttest.EventPayload("evt_1", payment.EventCheckoutCompleted, 1), "forged")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.webhook(t, paymenttest.EventPayload("evt_2", payment.EventCheckoutCompleted, 99), paymenttest.Signature)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCancelTwiceIsConflict(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product(t, 5)
	s.do(t, http.MethodPost, "/api/v1/cart/items", 1, service.AddItemRequest{ProductID: p.ID, Quantity: 2})
	w := s.do(t, http.MethodPost, "/api/v1/orders", 1, service.CreateOrderRequest{Address: "a", Phone: "b"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, 3, s.store.Stock(p.ID))

	path := fmt.Sprintf("/api/v1/orders/%d/cancel", order.ID)
	w = s.do(t, http.MethodPost, path, 1, gin.H{"reason": "wrong address"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, s.store.Stock(p.ID))

	w = s.do(t, http.MethodPost, path, 1, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 5, s.store.Stock(p.ID))
}

func TestArchiveAndRestore(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product(t, 5)
	s.do(t, http.MethodPost, "/api/v1/cart/items", 1, service.AddItemRequest{ProductID: p.ID, Quantity: 1})
	w := s.do(t, http.MethodPost, "/api/v1/orders", 1, service.CreateOrderRequest{Address: "a", Phone: "b"})
	var order models.Order
	decode(t, w, &order)

	path := fmt.Sprintf("/api/v1/orders/%d", order.ID)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path, 1, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, 1, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/restore", 1, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, 1, nil).Code)
}

func TestCartRemoveAndClear(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.product(t, 5)
	b := s.product(t, 5)
	s.do(t, http.MethodPost, "/api/v1/cart/items", 1, service.AddItemRequest{ProductID: a.ID, Quantity: 1})
	s.do(t, http.MethodPost, "/api/v1/cart/items", 1, service.AddItemRequest{ProductID: b.ID, Quantity: 1})

	w := s.do(t, http.MethodDelete, "/api/v1/cart/items", 1, service.RemoveItemsRequest{ProductIDs: []int64{a.ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cart models.Cart
	decode(t, w, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, b.ID, cart.Items[0].ProductID)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/cart", 1, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/cart", 1, nil).Code)
}

func TestStreamDeliversMessages(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	require.NoError(t, err)
	req.Header.Set(headerUserID, "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q", prefix)
		return ""
	}

	waitFor("event:ready")
	require.Eventually(t, func() bool { return s.registry.Len() == 1 }, time.Second, 10*time.Millisecond)

	hub := realtime.NewHub(s.registry)
	require.Equal(t, 1, hub.SendToOwner(1, realtime.Message{Event: realtime.EventOrderStatus, Data: []byte(`{"order_id":3}`)}))

	waitFor("event:" + realtime.EventOrderStatus)
	assert.Equal(t, `data:{"order_id":3}`, waitFor("data:"))

	cancel()
	require.Eventually(t, func() bool { return s.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
