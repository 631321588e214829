package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NewOrderParams carries everything needed to build an order from a cart snapshot
type NewOrderParams struct {
	Code          string
	OwnerID       int64
	Address       string
	Phone         string
	Note          string
	PaymentMethod string
	Discount      decimal.Decimal
	Lines         []CartLine
}

// InitialStatus returns the status a new order starts in for the given payment method.
func InitialStatus(paymentMethod string) (string, error) {
	switch paymentMethod {
	case PaymentMethodCash:
		return OrderStatusPlaced, nil
	case PaymentMethodCard:
		return OrderStatusPending, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// NewOrder builds an unsaved order. Line items are frozen copies of the snapshot
// and the total is derived from them, never taken from the caller.
func NewOrder(p NewOrderParams) (*Order, error) {
	if p.PaymentMethod == "" {
		p.PaymentMethod = PaymentMethodCash
	}
	status, err := InitialStatus(p.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if len(p.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]OrderItem, 0, len(p.Lines))
	total := decimal.Zero
	for _, line := range p.Lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		finalPrice := LineTotal(line.UnitPrice, line.Quantity)
		items = append(items, OrderItem{
			ProductID:  line.ProductID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			FinalPrice: finalPrice,
		})
		total = total.Add(finalPrice)
	}

	now := time.Now().UTC()
	order := &Order{
		Code:          p.Code,
		CreatedBy:     p.OwnerID,
		Address:       p.Address,
		Phone:         p.Phone,
		Note:          p.Note,
		PaymentMethod: p.PaymentMethod,
		Status:        status,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := order.SetDiscount(p.Discount); err != nil {
		return nil, err
	}
	order.SetTotal(total)
	return order, nil
}

// SetTotal replaces the total and recomputes the subtotal.
func (o *Order) SetTotal(total decimal.Decimal) {
	o.Total = RoundMoney(total)
	o.Subtotal = RecomputeSubtotal(o.Total, o.Discount)
}

// SetDiscount replaces the discount percentage and recomputes the subtotal.
// Percentages carry at most two decimal places, matching the stored column.
func (o *Order) SetDiscount(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) || !percent.Equal(percent.Round(2)) {
		return ErrInvalidDiscount
	}
	o.Discount = percent
	o.Subtotal = RecomputeSubtotal(o.Total, o.Discount)
	return nil
}

// IsCard reports whether the order is paid through the payment processor.
func (o *Order) IsCard() bool {
	return o.PaymentMethod == PaymentMethodCard
}

// CanCancel reports whether the order may still move to canceled.
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPlaced
}

// IsArchived reports whether the order is soft deleted.
func (o *Order) IsArchived() bool {
	return o.FrozenAt != nil
}
