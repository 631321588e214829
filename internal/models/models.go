package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	OriginalPrice   decimal.Decimal `db:"original_price" json:"original_price"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	Stock           int             `db:"stock" json:"stock"`
	Version         int64           `db:"version" json:"version"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// SalePrice returns the catalog price after the product discount
func (p *Product) SalePrice() decimal.Decimal {
	return SalePrice(p.OriginalPrice, p.DiscountPercent)
}

// StockLevel is the ledger view of a product after a mutation
type StockLevel struct {
	ProductID int64 `db:"id" json:"product_id"`
	Stock     int   `db:"stock" json:"stock"`
	Version   int64 `db:"version" json:"version"`
}

// Cart is the single cart owned by a user
type Cart struct {
	OwnerID   int64      `db:"owner_id" json:"owner_id"`
	Items     []CartItem `db:"-" json:"items"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// CartItem is one cart line
type CartItem struct {
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// CartLine is a cart item resolved against the live catalog
type CartLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CartView is a priced snapshot of a cart at a single instant
type CartView struct {
	OwnerID int64           `json:"owner_id"`
	Lines   []CartLine      `json:"lines"`
	Total   decimal.Decimal `json:"total"`
}

// Order statuses
const (
	OrderStatusPending  = "pending"
	OrderStatusPlaced   = "placed"
	OrderStatusCanceled = "canceled"
)

// Payment methods
const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

// Order represents a customer order
type Order struct {
	ID            int64           `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	CreatedBy     int64           `db:"created_by" json:"created_by"`
	UpdatedBy     *int64          `db:"updated_by" json:"updated_by,omitempty"`
	Address       string          `db:"address" json:"address"`
	Phone         string          `db:"phone" json:"phone"`
	Note          string          `db:"note" json:"note,omitempty"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	Status        string          `db:"status" json:"status"`
	Total         decimal.Decimal `db:"total" json:"total"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	IntentID      string          `db:"intent_id" json:"intent_id,omitempty"`
	CancelReason  string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	PaidAt        *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	FrozenAt      *time.Time      `db:"frozen_at" json:"frozen_at,omitempty"`
	RestoredAt    *time.Time      `db:"restored_at" json:"restored_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	Items         []OrderItem     `db:"-" json:"items"`
}

// OrderItem is a frozen copy of catalog data taken when the order was created
type OrderItem struct {
	ID         int64           `db:"id" json:"id"`
	OrderID    int64           `db:"order_id" json:"order_id"`
	ProductID  int64           `db:"product_id" json:"product_id"`
	Name       string          `db:"name" json:"name"`
	Quantity   int             `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	FinalPrice decimal.Decimal `db:"final_price" json:"final_price"`
}

// StatusTransition describes a conditional status write.
// The write only applies when the current status is one of From.
type StatusTransition struct {
	OrderID       int64
	From          []string
	To            string
	PaymentMethod string
	UpdatedBy     *int64
	CancelReason  string
	MarkPaid      bool
}
