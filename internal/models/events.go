package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeStockChanged       = "STOCK_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	Code          string          `json:"code"`
	UserID        int64           `json:"user_id"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	Subtotal      string          `json:"subtotal"`
	Items         []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after a successful status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason,omitempty"`
}

// StockChangedEvent published after ledger mutations
type StockChangedEvent struct {
	BaseEvent
	Levels []StockLevel `json:"levels"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}
