// Package model defines the core domain types shared across the storefront.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"maps"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Options is the shopper's selection of product variants (size, color, ...).
// Key order carries no meaning.
type Options map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	maps.Copy(out, o)
	return out
}

// Product is a catalog record as supplied by the product source.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Subcategory   string          `json:"subcategory"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Images        []string        `json:"images"`
	Rating        float64         `json:"rating"`
	ReviewCount   int             `json:"review_count"`
	InStock       bool            `json:"in_stock"`
	StockCount    int             `json:"stock_count"`
}

// PrimaryImage returns the first image reference, or "" if there is none.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Discount returns the whole-number discount percent off the original price.
func (p Product) Discount() int64 {
	if !p.OriginalPrice.IsPositive() || !p.OriginalPrice.GreaterThan(p.Price) {
		return 0
	}
	return p.OriginalPrice.Sub(p.Price).Div(p.OriginalPrice).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// LineItem is one product-plus-options entry in a cart. Pricing, image and
// stock fields are snapshots taken when the item was first added.
type LineItem struct {
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	Image           string          `json:"image"`
	Quantity        int             `json:"quantity"` // always >= 1
	SelectedOptions Options         `json:"selected_options"`
	InStock         bool            `json:"in_stock"`
	StockCount      int             `json:"stock_count"`
}

// Cart is the authoritative cart state: ordered line items plus totals
// derived from them.
type Cart struct {
	Items    []LineItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Clone returns a deep copy so callers cannot reach internal state.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Items = make([]LineItem, len(c.Items))
	for i, it := range c.Items {
		it.SelectedOptions = it.SelectedOptions.Clone()
		out.Items[i] = it
	}
	return &out
}

// ItemCount sums quantities across all line items, saturating at
// math.MaxInt.
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		if it.Quantity > math.MaxInt-n {
			return math.MaxInt
		}
		n += it.Quantity
	}
	return n
}

// Address is a shipping destination captured at checkout.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Street    string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
}

// Order is an immutable snapshot of a cart at checkout. Only Status changes
// after creation.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []LineItem      `json:"items"`
	ShippingAddress Address         `json:"shipping_address"`
	CardLast4       string          `json:"card_last4"`
	CardName        string          `json:"card_name"`
	Notes           string          `json:"notes,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Category groups products for navigation.
type Category struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Image         string   `json:"image"`
	Subcategories []string `json:"subcategories"`
}

// Review is a shopper's rating of a product. Helpful counts "was this
// helpful" votes and only ever grows.
type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	UserName  string    `json:"user_name"`
	Rating    int       `json:"rating"` // 1..5
	Title     string    `json:"title"`
	Comment   string    `json:"comment"`
	Helpful   int       `json:"helpful"`
	CreatedAt time.Time `json:"created_at"`
}
