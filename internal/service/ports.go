package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// StockStore is the durable side of the inventory ledger. Both calls must be
// single atomic statements; DecrementStock fails with ErrInsufficientStock
// instead of going negative.
type StockStore interface {
	DecrementStock(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error)
	IncrementStock(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error)
}

// Catalog is the read-only view of products
type Catalog interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

type CartStore interface {
	GetCart(ctx context.Context, ownerID int64) (*models.Cart, error)
	UpsertCartItem(ctx context.Context, ownerID, productID int64, quantity int) (*models.Cart, bool, error)
	ReplaceCartItems(ctx context.Context, ownerID int64, items []models.CartItem) (*models.Cart, error)
	DeleteCart(ctx context.Context, ownerID int64) error
}

// OrderStore persists orders. TransitionStatus, SetPaymentIntent and
// UpdatePricing are conditional writes and return ErrNotEligible when nothing matched.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	TransitionStatus(ctx context.Context, t models.StatusTransition) (*models.Order, error)
	SetPaymentIntent(ctx context.Context, orderID int64, intentID string) error
	UpdatePricing(ctx context.Context, order *models.Order, expectedStatus string) error
	ArchiveOrder(ctx context.Context, orderID, ownerID int64) error
	UnarchiveOrder(ctx context.Context, orderID, ownerID int64) error
}

type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type EventDeduper interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Notifier informs the realtime channel. Calls never block the caller on
// delivery and never fail.
type Notifier interface {
	StockChanged(ctx context.Context, levels []models.StockLevel)
	OrderCreated(ctx context.Context, order *models.Order)
	OrderStatusChanged(ctx context.Context, order *models.Order, from string)
}

// EventPublisher writes domain events to the broker
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error
}
