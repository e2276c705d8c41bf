package cart

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/shophub/storefront/internal/model"
	"github.com/shophub/storefront/internal/pricing"
)

// Persisted layout. Field names and shapes are a storage contract shared
// with existing clients; money is written as a JSON number with two decimals.
type persistedItem struct {
	ProductID       string            `json:"productId"`
	Name            string            `json:"name"`
	Price           json.Number       `json:"price"`
	OriginalPrice   json.Number       `json:"originalPrice"`
	Image           string            `json:"image"`
	Quantity        int               `json:"quantity"`
	SelectedOptions map[string]string `json:"selectedOptions"`
	InStock         bool              `json:"inStock"`
	StockCount      int               `json:"stockCount"`
}

type persistedCart struct {
	Items    []persistedItem `json:"items"`
	Subtotal json.Number     `json:"subtotal"`
	Tax      json.Number     `json:"tax"`
	Shipping json.Number     `json:"shipping"`
	Total    json.Number     `json:"total"`
}

func money(v decimal.Decimal) json.Number {
	return json.Number(v.StringFixed(pricing.Scale))
}

// Encode serializes cart into the persisted layout.
func Encode(c *model.Cart) ([]byte, error) {
	pc := persistedCart{
		Items:    make([]persistedItem, 0, len(c.Items)),
		Subtotal: money(c.Subtotal),
		Tax:      money(c.Tax),
		Shipping: money(c.Shipping),
		Total:    money(c.Total),
	}
	for _, it := range c.Items {
		pc.Items = append(pc.Items, persistedItem{
			ProductID:       it.ProductID,
			Name:            it.Name,
			Price:           money(it.Price),
			OriginalPrice:   money(it.OriginalPrice),
			Image:           it.Image,
			Quantity:        it.Quantity,
			SelectedOptions: it.SelectedOptions.Clone(),
			InStock:         it.InStock,
			StockCount:      it.StockCount,
		})
	}
	return json.Marshal(pc)
}

// Decode parses a persisted payload. Totals are recomputed from the items
// with calc rather than trusted, and lines with a non-positive quantity are
// dropped. Any parse failure is returned to the caller, which treats it as
// an empty cart.
func Decode(data []byte, calc *pricing.Calculator) (*model.Cart, error) {
	var pc persistedCart
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, err
	}

	c := &model.Cart{Items: make([]model.LineItem, 0, len(pc.Items))}
	for _, pi := range pc.Items {
		if pi.Quantity <= 0 {
			continue
		}
		price, err := parseMoney(pi.Price)
		if err != nil {
			return nil, err
		}
		original, err := parseMoney(pi.OriginalPrice)
		if err != nil {
			return nil, err
		}
		c.Items = append(c.Items, model.LineItem{
			ProductID:       pi.ProductID,
			Name:            pi.Name,
			Price:           price,
			OriginalPrice:   original,
			Image:           pi.Image,
			Quantity:        pi.Quantity,
			SelectedOptions: model.Options(pi.SelectedOptions).Clone(),
			InStock:         pi.InStock,
			StockCount:      pi.StockCount,
		})
	}
	calc.Apply(c)
	return c, nil
}

// parseMoney accepts an absent value as zero.
func parseMoney(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

// Empty returns the canonical empty cart.
func Empty() *model.Cart {
	return &model.Cart{
		Items:    []model.LineItem{},
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Shipping: decimal.Zero,
		Total:    decimal.Zero,
	}
}
