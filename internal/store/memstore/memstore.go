// Package memstore is an in-memory stand-in for the Postgres store and the
// Redis lock/dedup client. Writes take one mutex so conditional updates have
// the same all-or-nothing behaviour as their SQL counterparts.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.Mutex

	products map[int64]*models.Product
	carts    map[int64]*models.Cart
	orders   map[int64]*models.Order
	codes    map[string]int64
	locks    map[string]string
	keys     map[string]interface{}

	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
}

func New() *Store {
	return &Store{
		products: make(map[int64]*models.Product),
		carts:    make(map[int64]*models.Cart),
		orders:   make(map[int64]*models.Order),
		codes:    make(map[string]int64),
		locks:    make(map[string]string),
		keys:     make(map[string]interface{}),
	}
}

// CreateProduct adds a product and assigns its id
func (s *Store) CreateProduct(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	product.ID = s.nextProductID
	product.UpdatedAt = time.Now().UTC()
	p := *product
	s.products[p.ID] = &p
	return nil
}

// Stock returns the current stock of a product, or -1 if it does not exist
func (s *Store) Stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		return p.Stock
	}
	return -1
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	copied := *p
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := []models.Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			products = append(products, *p)
		}
	}
	return products, nil
}

// SetPrice changes catalog pricing, as the external catalog would
func (s *Store) SetPrice(productID int64, originalPrice, discountPercent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.OriginalPrice = decimal.RequireFromString(originalPrice)
		p.DiscountPercent = decimal.RequireFromString(discountPercent)
	}
}

func (s *Store) DecrementStock(_ context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	if p.Stock < quantity {
		return nil, fmt.Errorf("%w: product %d", models.ErrInsufficientStock, productID)
	}
	p.Stock -= quantity
	p.Version++
	return &models.StockLevel{ProductID: p.ID, Stock: p.Stock, Version: p.Version}, nil
}

func (s *Store) IncrementStock(_ context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	p.Stock += quantity
	p.Version++
	return &models.StockLevel{ProductID: p.ID, Stock: p.Stock, Version: p.Version}, nil
}

func copyCart(c *models.Cart) *models.Cart {
	copied := *c
	copied.Items = append([]models.CartItem{}, c.Items...)
	return &copied
}

func (s *Store) GetCart(_ context.Context, ownerID int64) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[ownerID]
	if !ok {
		return nil, models.ErrCartNotFound
	}
	return copyCart(c), nil
}

func (s *Store) UpsertCartItem(_ context.Context, ownerID, productID int64, quantity int) (*models.Cart, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c, ok := s.carts[ownerID]
	if !ok {
		c = &models.Cart{OwnerID: ownerID, Items: []models.CartItem{}, CreatedAt: now}
		s.carts[ownerID] = c
	}
	c.UpdatedAt = now

	replaced := false
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			replaced = true
		}
	}
	if !replaced {
		c.Items = append(c.Items, models.CartItem{ProductID: productID, Quantity: quantity})
		sort.Slice(c.Items, func(i, j int) bool { return c.Items[i].ProductID < c.Items[j].ProductID })
	}
	return copyCart(c), !ok, nil
}

func (s *Store) ReplaceCartItems(_ context.Context, ownerID int64, items []models.CartItem) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[ownerID]
	if !ok {
		return nil, models.ErrCartNotFound
	}
	c.Items = append([]models.CartItem{}, items...)
	c.UpdatedAt = time.Now().UTC()
	return copyCart(c), nil
}

func (s *Store) DeleteCart(_ context.Context, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[ownerID]; !ok {
		return models.ErrCartNotFound
	}
	delete(s.carts, ownerID)
	return nil
}

func copyOrder(o *models.Order) *models.Order {
	copied := *o
	copied.Items = append([]models.OrderItem{}, o.Items...)
	return &copied
}

func (s *Store) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[order.Code]; taken {
		return fmt.Errorf("%w: duplicate order code %s", models.ErrConflict, order.Code)
	}
	s.nextOrderID++
	order.ID = s.nextOrderID
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
		order.Items[i].OrderID = order.ID
	}
	s.orders[order.ID] = copyOrder(order)
	s.codes[order.Code] = order.ID
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.FrozenAt != nil {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	return copyOrder(o), nil
}

func (s *Store) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := []models.Order{}
	for _, o := range s.orders {
		if o.CreatedBy == userID && o.FrozenAt == nil {
			orders = append(orders, *copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (s *Store) TransitionStatus(_ context.Context, t models.StatusTransition) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[t.OrderID]
	if !ok || o.FrozenAt != nil || !contains(t.From, o.Status) ||
		(t.PaymentMethod != "" && o.PaymentMethod != t.PaymentMethod) {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotEligible, t.OrderID)
	}

	now := time.Now().UTC()
	o.Status = t.To
	if t.UpdatedBy != nil {
		by := *t.UpdatedBy
		o.UpdatedBy = &by
	}
	if t.CancelReason != "" {
		o.CancelReason = t.CancelReason
	}
	if t.MarkPaid {
		o.PaidAt = &now
	}
	o.UpdatedAt = now
	return copyOrder(o), nil
}

func (s *Store) SetPaymentIntent(_ context.Context, orderID int64, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.FrozenAt != nil || o.Status != models.OrderStatusPending || o.PaymentMethod != models.PaymentMethodCard {
		return fmt.Errorf("%w: order %d", models.ErrNotEligible, orderID)
	}
	o.IntentID = intentID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdatePricing(_ context.Context, order *models.Order, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[order.ID]
	if !ok || o.FrozenAt != nil || o.Status != expectedStatus {
		return fmt.Errorf("%w: order %d", models.ErrNotEligible, order.ID)
	}
	o.Total = order.Total
	// NUMERIC(5, 2)
	o.Discount = order.Discount.Round(2)
	o.Subtotal = order.Subtotal
	if order.UpdatedBy != nil {
		by := *order.UpdatedBy
		o.UpdatedBy = &by
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ArchiveOrder(_ context.Context, orderID, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.CreatedBy != ownerID || o.FrozenAt != nil {
		return fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	now := time.Now().UTC()
	o.FrozenAt = &now
	o.RestoredAt = nil
	o.UpdatedBy = &ownerID
	return nil
}

func (s *Store) UnarchiveOrder(_ context.Context, orderID, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.CreatedBy != ownerID || o.FrozenAt == nil {
		return fmt.Errorf("%w: archived order %d", models.ErrOrderNotFound, orderID)
	}
	now := time.Now().UTC()
	o.FrozenAt = nil
	o.RestoredAt = &now
	o.UpdatedBy = &ownerID
	return nil
}

// AcquireLock mirrors the Redis lock. TTLs are not enforced.
func (s *Store) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[key] = token
	return token, true, nil
}

func (s *Store) ReleaseLock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] == token {
		delete(s.locks, key)
	}
	return nil
}

func (s *Store) CheckIdempotencyKey(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *Store) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = value
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
