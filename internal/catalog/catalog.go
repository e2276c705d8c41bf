// Package catalog is the storefront's product source: a read-only set of
// product records loaded from a seed file, with the browsing queries the
// storefront needs (search, category listing, deals, related products).
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/shophub/storefront/internal/model"
)

//go:embed seed.yaml
var defaultSeed []byte

var (
	ErrProductNotFound = errors.New("catalog: product not found")
	ErrInvalidSeed     = errors.New("catalog: invalid seed record")
)

// Sort orders accepted by Search.
const (
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
	SortRating    = "rating"
	SortNewest    = "newest"
	SortName      = "name"
)

const (
	featuredMinRating = 4.5
	featuredLimit     = 8
	dealsLimit        = 6
)

// seedRecord is the on-disk product shape. Prices are strings so they never
// pass through float64.
type seedRecord struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Category      string   `yaml:"category"`
	Subcategory   string   `yaml:"subcategory"`
	Price         string   `yaml:"price"`
	OriginalPrice string   `yaml:"original_price"`
	Images        []string `yaml:"images"`
	Rating        float64  `yaml:"rating"`
	ReviewCount   int      `yaml:"review_count"`
	InStock       bool     `yaml:"in_stock"`
	StockCount    int      `yaml:"stock_count"`
}

func (r seedRecord) product() (model.Product, error) {
	if r.ID == "" || r.Name == "" {
		return model.Product{}, fmt.Errorf("%w: id and name are required", ErrInvalidSeed)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil || price.IsNegative() {
		return model.Product{}, fmt.Errorf("%w: product %s price %q", ErrInvalidSeed, r.ID, r.Price)
	}
	original := price
	if r.OriginalPrice != "" {
		original, err = decimal.NewFromString(r.OriginalPrice)
		if err != nil {
			return model.Product{}, fmt.Errorf("%w: product %s original price %q", ErrInvalidSeed, r.ID, r.OriginalPrice)
		}
	}
	return model.Product{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		Category:      r.Category,
		Subcategory:   r.Subcategory,
		Price:         price,
		OriginalPrice: original,
		Images:        r.Images,
		Rating:        r.Rating,
		ReviewCount:   r.ReviewCount,
		InStock:       r.InStock,
		StockCount:    r.StockCount,
	}, nil
}

// Filters narrows and orders a Search. Nil pointers mean "no bound".
type Filters struct {
	Category    string // "" or "all" matches every category
	Subcategory string // "" matches every subcategory
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	MinRating   *float64
	InStock     bool
	SortBy      string
}

// Catalog is an immutable, in-memory product set. Safe for concurrent use.
type Catalog struct {
	products []model.Product // seed order; later is newer
	byID     map[string]int
}

// New builds a catalog from products. Duplicate ids are rejected.
func New(products []model.Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]model.Product, 0, len(products)),
		byID:     make(map[string]int, len(products)),
	}
	for _, p := range products {
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidSeed, p.ID)
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c, nil
}

// Load parses a YAML (or JSON) list of products.
func Load(r io.Reader) (*Catalog, error) {
	var records []seedRecord
	if err := yaml.NewDecoder(r).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	products := make([]model.Product, 0, len(records))
	for _, rec := range records {
		p, err := rec.product()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return New(products)
}

// LoadFile loads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultSeed))
}

// All returns every product in seed order.
func (c *Catalog) All() []model.Product {
	return clone(c.products)
}

// Product returns the product with id.
func (c *Catalog) Product(id string) (model.Product, error) {
	i, ok := c.byID[id]
	if !ok {
		return model.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return cloneOne(c.products[i]), nil
}

// ByCategory lists products in category, optionally narrowed to
// subcategory. Matching is case-insensitive.
func (c *Catalog) ByCategory(category, subcategory string) []model.Product {
	var out []model.Product
	for _, p := range c.products {
		if !strings.EqualFold(p.Category, category) {
			continue
		}
		if subcategory != "" && !strings.EqualFold(p.Subcategory, subcategory) {
			continue
		}
		out = append(out, cloneOne(p))
	}
	return out
}

// Search matches query against name, description and category
// (case-insensitive substring; empty query matches all), then applies f.
func (c *Catalog) Search(query string, f Filters) []model.Product {
	q := strings.ToLower(strings.TrimSpace(query))

	type ranked struct {
		p   model.Product
		seq int
	}
	var hits []ranked
	for i, p := range c.products {
		if q != "" &&
			!strings.Contains(strings.ToLower(p.Name), q) &&
			!strings.Contains(strings.ToLower(p.Description), q) &&
			!strings.Contains(strings.ToLower(p.Category), q) {
			continue
		}
		if f.Category != "" && !strings.EqualFold(f.Category, "all") && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if f.Subcategory != "" && !strings.EqualFold(p.Subcategory, f.Subcategory) {
			continue
		}
		if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
			continue
		}
		if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
			continue
		}
		if f.MinRating != nil && p.Rating < *f.MinRating {
			continue
		}
		if f.InStock && !p.InStock {
			continue
		}
		hits = append(hits, ranked{p: p, seq: i})
	}

	switch f.SortBy {
	case SortPriceLow:
		slices.SortStableFunc(hits, func(a, b ranked) int { return a.p.Price.Cmp(b.p.Price) })
	case SortPriceHigh:
		slices.SortStableFunc(hits, func(a, b ranked) int { return b.p.Price.Cmp(a.p.Price) })
	case SortRating:
		slices.SortStableFunc(hits, func(a, b ranked) int { return cmpFloat(b.p.Rating, a.p.Rating) })
	case SortNewest:
		slices.SortStableFunc(hits, func(a, b ranked) int { return b.seq - a.seq })
	case SortName:
		col := collate.New(language.English, collate.IgnoreCase)
		slices.SortStableFunc(hits, func(a, b ranked) int { return col.CompareString(a.p.Name, b.p.Name) })
	}

	out := make([]model.Product, 0, len(hits))
	for _, h := range hits {
		out = append(out, cloneOne(h.p))
	}
	return out
}

// Featured returns up to eight well-rated discounted products.
func (c *Catalog) Featured() []model.Product {
	var out []model.Product
	for _, p := range c.products {
		if len(out) == featuredLimit {
			break
		}
		if p.Rating >= featuredMinRating && p.OriginalPrice.GreaterThan(p.Price) {
			out = append(out, cloneOne(p))
		}
	}
	return out
}

// Deal is a discounted product with its whole-number discount percent.
type Deal struct {
	model.Product
	Discount int64 `json:"discount"`
}

// Deals returns up to six discounted products, largest discount first.
func (c *Catalog) Deals() []Deal {
	var deals []Deal
	for _, p := range c.products {
		if p.OriginalPrice.GreaterThan(p.Price) {
			deals = append(deals, Deal{Product: cloneOne(p), Discount: p.Discount()})
		}
	}
	slices.SortStableFunc(deals, func(a, b Deal) int {
		switch {
		case a.Discount > b.Discount:
			return -1
		case a.Discount < b.Discount:
			return 1
		}
		return 0
	})
	if len(deals) > dealsLimit {
		deals = deals[:dealsLimit]
	}
	return deals
}

// Related returns up to limit other products sharing id's category or
// subcategory. An unknown id yields no products.
func (c *Catalog) Related(id string, limit int) []model.Product {
	i, ok := c.byID[id]
	if !ok || limit <= 0 {
		return nil
	}
	src := c.products[i]

	var out []model.Product
	for _, p := range c.products {
		if len(out) == limit {
			break
		}
		if p.ID == id {
			continue
		}
		if p.Category == src.Category || p.Subcategory == src.Subcategory {
			out = append(out, cloneOne(p))
		}
	}
	return out
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cloneOne(p model.Product) model.Product {
	p.Images = slices.Clone(p.Images)
	return p
}

func clone(ps []model.Product) []model.Product {
	out := make([]model.Product, len(ps))
	for i, p := range ps {
		out[i] = cloneOne(p)
	}
	return out
}
