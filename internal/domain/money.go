package domain

import "math"

// Round2 rounds a monetary amount to two decimal places using half-up
// rounding, so 100.005 rounds to 100.01. All derived money values pass
// through here exactly once at the point they are computed.
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// LineTotal returns the rounded extended price for one line.
func LineTotal(unitPrice float64, quantity int) float64 {
	return Round2(unitPrice * float64(quantity))
}

// ComputeTotals derives cart totals from item snapshots, a flat discount, a
// fractional tax rate, and a shipping fee. Tax applies to the discounted
// subtotal; the grand total never goes below zero.
func ComputeTotals(items []CartItem, discount, taxRate, shipping float64) CartTotals {
	var subtotal float64
	for _, item := range items {
		subtotal += LineTotal(item.UnitPrice, item.Quantity)
	}
	subtotal = Round2(subtotal)

	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	discount = Round2(discount)

	tax := Round2((subtotal - discount) * taxRate)
	shipping = Round2(shipping)

	total := Round2(subtotal - discount + tax + shipping)
	if total < 0 {
		total = 0
	}
	return CartTotals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
}

// CountItems sums the quantities across cart items.
func CountItems(items []CartItem) int {
	var count int
	for _, item := range items {
		count += item.Quantity
	}
	return count
}

// AmountsMatch reports whether two monetary amounts agree within the
// reconciliation tolerance of one cent.
func AmountsMatch(a, b float64) bool {
	return math.Abs(a-b) <= 0.01
}
