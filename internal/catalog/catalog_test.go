package catalog

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shophub/storefront/internal/model"
)

func ids(ps []model.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func dec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func defaultCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default()
	require.NoError(t, err)
	return c
}

func TestDefault_LoadsSeed(t *testing.T) {
	c := defaultCatalog(t)
	assert.Len(t, c.All(), 8)

	p, err := c.Product("3")
	require.NoError(t, err)
	assert.Equal(t, "Stainless Steel Water Bottle", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, p.OriginalPrice.Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, "/img/bottle-1.jpg", p.PrimaryImage())
}

func TestProduct_NotFound(t *testing.T) {
	_, err := defaultCatalog(t).Product("999")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProduct_ReturnsCopy(t *testing.T) {
	c := defaultCatalog(t)
	p, err := c.Product("1")
	require.NoError(t, err)
	p.Images[0] = "mutated"

	again, err := c.Product("1")
	require.NoError(t, err)
	assert.Equal(t, "/img/headphones-1.jpg", again.Images[0])
}

func TestLoad_JSONSeed(t *testing.T) {
	c, err := Load(strings.NewReader(`[{"id":"a","name":"A","price":"1.50"}]`))
	require.NoError(t, err)

	p, err := c.Product("a")
	require.NoError(t, err)
	assert.True(t, p.OriginalPrice.Equal(p.Price))
}

func TestLoad_RejectsBadRecords(t *testing.T) {
	cases := map[string]string{
		"missing name":  `- {id: "a", price: "1"}`,
		"bad price":     `- {id: "a", name: A, price: "cheap"}`,
		"negative":      `- {id: "a", name: A, price: "-1"}`,
		"duplicate ids": "- {id: \"a\", name: A, price: \"1\"}\n- {id: \"a\", name: B, price: \"2\"}",
	}
	for name, seed := range cases {
		_, err := Load(strings.NewReader(seed))
		assert.ErrorIs(t, err, ErrInvalidSeed, name)
	}
}

func TestLoad_Empty(t *testing.T) {
	c, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, c.All())
}

func TestByCategory(t *testing.T) {
	c := defaultCatalog(t)

	assert.Equal(t, []string{"1", "4", "7"}, ids(c.ByCategory("electronics", "")))
	assert.Equal(t, []string{"1", "7"}, ids(c.ByCategory("Electronics", "audio")))
	assert.Empty(t, c.ByCategory("Garden", ""))
}

func TestSearch_Query(t *testing.T) {
	c := defaultCatalog(t)

	assert.Equal(t, []string{"1"}, ids(c.Search("BATTERY", Filters{})), "matches description")
	assert.Equal(t, []string{"2", "5", "8"}, ids(c.Search("clothing", Filters{})), "matches category")
	assert.Len(t, c.Search("", Filters{}), 8)
}

func TestSearch_Filters(t *testing.T) {
	c := defaultCatalog(t)

	got := c.Search("", Filters{Category: "all", MinPrice: dec("20"), MaxPrice: dec("60")})
	assert.Equal(t, []string{"2", "3", "5", "6", "7"}, ids(got))

	rating := 4.6
	got = c.Search("", Filters{MinRating: &rating, InStock: true})
	assert.Equal(t, []string{"1", "3", "8"}, ids(got))

	got = c.Search("", Filters{Category: "home", InStock: true})
	assert.Equal(t, []string{"3"}, ids(got))
}

func TestSearch_SubcategoryCombinesWithFilters(t *testing.T) {
	c := defaultCatalog(t)

	got := c.Search("", Filters{Category: "Electronics", Subcategory: "audio"})
	assert.Equal(t, []string{"1", "7"}, ids(got))

	got = c.Search("", Filters{Category: "Electronics", Subcategory: "audio", MaxPrice: dec("100")})
	assert.Equal(t, []string{"7"}, ids(got))

	got = c.Search("", Filters{Subcategory: "Kitchen", InStock: true})
	assert.Equal(t, []string{"3"}, ids(got))

	got = c.Search("", Filters{Subcategory: "Kitchen", SortBy: SortPriceHigh})
	assert.Equal(t, []string{"6", "3"}, ids(got))
}

func TestSearch_Sorts(t *testing.T) {
	c := defaultCatalog(t)

	assert.Equal(t, []string{"8", "3", "2", "6", "5", "7", "4", "1"}, ids(c.Search("", Filters{SortBy: SortPriceLow})))
	assert.Equal(t, []string{"1", "4", "7", "5", "6", "2", "3", "8"}, ids(c.Search("", Filters{SortBy: SortPriceHigh})))
	assert.Equal(t, []string{"8", "3", "1", "6", "5", "2", "4", "7"}, ids(c.Search("", Filters{SortBy: SortRating})))
	assert.Equal(t, []string{"8", "7", "6", "5", "4", "3", "2", "1"}, ids(c.Search("", Filters{SortBy: SortNewest})))
	assert.Equal(t, []string{"6", "8", "2", "7", "5", "4", "3", "1"}, ids(c.Search("", Filters{SortBy: SortName})))
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8"}, ids(c.Search("", Filters{SortBy: "unknown"})))
}

func TestFeatured(t *testing.T) {
	assert.Equal(t, []string{"1", "3", "5", "6"}, ids(defaultCatalog(t).Featured()))
}

func TestDeals(t *testing.T) {
	deals := defaultCatalog(t).Deals()
	require.Len(t, deals, 6)

	var got []string
	var discounts []int64
	for _, d := range deals {
		got = append(got, d.ID)
		discounts = append(discounts, d.Discount)
	}
	assert.Equal(t, []string{"6", "7", "5", "1", "2", "3"}, got)
	assert.Equal(t, []int64{30, 25, 23, 20, 20, 20}, discounts)
}

func TestRelated(t *testing.T) {
	c := defaultCatalog(t)

	assert.Equal(t, []string{"4", "7"}, ids(c.Related("1", 4)))
	assert.Equal(t, []string{"4"}, ids(c.Related("1", 1)))
	assert.Empty(t, c.Related("missing", 4))
	assert.Empty(t, c.Related("1", 0))
}
