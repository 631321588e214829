package models

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places kept for every monetary amount.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to MoneyPlaces. Every derived amount
// (sale price, line total, subtotal) goes through it.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// applyPercentOff returns amount - amount*percent/100.
func applyPercentOff(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Sub(amount.Mul(percent).Div(hundred)))
}

// SalePrice derives the catalog sale price from the original price and discount percent.
func SalePrice(originalPrice, discountPercent decimal.Decimal) decimal.Decimal {
	return applyPercentOff(originalPrice, discountPercent)
}

// RecomputeSubtotal derives the order subtotal: total - total*(discount/100).
func RecomputeSubtotal(total, discount decimal.Decimal) decimal.Decimal {
	return applyPercentOff(total, discount)
}

// LineTotal is quantity x unit price.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// ToMinorUnits converts an amount to the processor's smallest currency unit.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}
