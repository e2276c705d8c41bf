// Package pricing derives cart totals from line items.
//
// Every derived field is rounded to cents on its own (half away from zero):
//   - subtotal = round(Σ price × quantity)
//   - tax      = round(subtotal × TaxRate)
//   - shipping = 0 when subtotal >= FreeShippingThreshold, else ShippingFee
//   - total    = round(subtotal + tax + shipping)
//
// All monetary values use shopspring/decimal, never float64.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/shophub/storefront/internal/model"
)

var (
	// ErrInvalidRate is returned when the tax rate is negative.
	ErrInvalidRate = errors.New("pricing: tax rate must not be negative")

	// ErrInvalidFee is returned when the threshold or shipping fee is negative.
	ErrInvalidFee = errors.New("pricing: shipping threshold and fee must not be negative")

	// TaxRate is the flat sales tax applied to the subtotal (8.75%).
	TaxRate = decimal.RequireFromString("0.0875")

	// FreeShippingThreshold is the subtotal at or above which shipping is free.
	FreeShippingThreshold = decimal.NewFromInt(75)

	// ShippingFee is charged below the free-shipping threshold.
	ShippingFee = decimal.RequireFromString("9.99")

	// Scale is the number of decimal places every money field is rounded to.
	Scale int32 = 2
)

// Totals is the derived money breakdown of a set of line items.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Calculator computes totals for a fixed tax and shipping policy.
// It is stateless and safe for concurrent use.
type Calculator struct {
	taxRate   decimal.Decimal
	threshold decimal.Decimal
	fee       decimal.Decimal
}

// NewCalculator creates a calculator with an explicit policy.
func NewCalculator(taxRate, freeShippingThreshold, shippingFee decimal.Decimal) (*Calculator, error) {
	if taxRate.IsNegative() {
		return nil, ErrInvalidRate
	}
	if freeShippingThreshold.IsNegative() || shippingFee.IsNegative() {
		return nil, ErrInvalidFee
	}
	return &Calculator{
		taxRate:   taxRate,
		threshold: freeShippingThreshold,
		fee:       shippingFee,
	}, nil
}

// Default returns the storefront's standard policy: 8.75% tax, free shipping
// from $75, otherwise $9.99.
func Default() *Calculator {
	return &Calculator{
		taxRate:   TaxRate,
		threshold: FreeShippingThreshold,
		fee:       ShippingFee,
	}
}

// Subtotal returns round(Σ price × quantity).
func (c *Calculator) Subtotal(items []model.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum.Round(Scale)
}

// Shipping returns the shipping charge for a rounded subtotal. An empty
// cart (zero subtotal) still owes nothing.
func (c *Calculator) Shipping(subtotal decimal.Decimal, empty bool) decimal.Decimal {
	if empty || subtotal.GreaterThanOrEqual(c.threshold) {
		return decimal.Zero
	}
	return c.fee.Round(Scale)
}

// Compute derives all totals for items. The result depends only on items.
func (c *Calculator) Compute(items []model.LineItem) Totals {
	subtotal := c.Subtotal(items)
	tax := subtotal.Mul(c.taxRate).Round(Scale)
	shipping := c.Shipping(subtotal, len(items) == 0)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping).Round(Scale),
	}
}

// Apply recomputes cart's totals from its items in place.
func (c *Calculator) Apply(cart *model.Cart) {
	t := c.Compute(cart.Items)
	cart.Subtotal = t.Subtotal
	cart.Tax = t.Tax
	cart.Shipping = t.Shipping
	cart.Total = t.Total
}
