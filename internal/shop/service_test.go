package shop_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shophub/storefront/internal/cart"
	"github.com/shophub/storefront/internal/catalog"
	"github.com/shophub/storefront/internal/model"
	"github.com/shophub/storefront/internal/order"
	"github.com/shophub/storefront/internal/review"
	"github.com/shophub/storefront/internal/shop"
	"github.com/shophub/storefront/internal/store"
)

// recordingNotifier remembers which users were notified.
type recordingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (n *recordingNotifier) CartChanged(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
}

func (n *recordingNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.users...)
}

// newTestEnv creates a Service over kv with the default catalog and
// categories.
func newTestEnv(t *testing.T, kv store.KV) (*recordingNotifier, chi.Router) {
	t.Helper()
	products, err := catalog.Default()
	require.NoError(t, err)
	categories, err := catalog.DefaultCategories()
	require.NoError(t, err)

	n := &recordingNotifier{}
	svc := shop.NewService(cart.NewRegistry(kv, nil), products, categories, order.NewBook(kv), review.NewBook(kv), n)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return n, r
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeCart(t *testing.T, w *httptest.ResponseRecorder) model.Cart {
	t.Helper()
	var c model.Cart
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	return c
}

func qty(n int) *int { return &n }

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- Cart tests ---

func TestAddItem_MergesAndNotifies(t *testing.T) {
	n, router := newTestEnv(t, store.NewMemoryKV())

	w := do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{
		ProductID:       "3",
		Quantity:        qty(2),
		SelectedOptions: model.Options{"color": "blue"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{
		ProductID:       "3",
		SelectedOptions: model.Options{"color": "blue"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c := decodeCart(t, w)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.Equal(t, "Stainless Steel Water Bottle", c.Items[0].Name)
	assert.True(t, c.Subtotal.Equal(money("60.00")), "subtotal %s", c.Subtotal)
	assert.True(t, c.Tax.Equal(money("5.25")), "tax %s", c.Tax)
	assert.True(t, c.Shipping.Equal(money("9.99")), "shipping %s", c.Shipping)
	assert.True(t, c.Total.Equal(money("75.24")), "total %s", c.Total)

	w = do(t, router, "GET", "/api/v1/carts/alice/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var count shop.ItemCountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &count))
	assert.Equal(t, 3, count.Count)

	assert.Equal(t, []string{"alice", "alice"}, n.calls())
}

func TestAddItem_DistinctOptionsAreSeparateLines(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{
		ProductID: "2", SelectedOptions: model.Options{"size": "M", "color": "white"},
	})
	w := do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{
		ProductID: "2", SelectedOptions: model.Options{"size": "L", "color": "white"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	c := decodeCart(t, w)
	require.Len(t, c.Items, 2)
	assert.Equal(t, "M", c.Items[0].SelectedOptions["size"])
	assert.Equal(t, "L", c.Items[1].SelectedOptions["size"])
}

func TestAddItem_Rejections(t *testing.T) {
	n, router := newTestEnv(t, store.NewMemoryKV())

	w := do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "3", Quantity: qty(0)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "404", Quantity: qty(1)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest("POST", "/api/v1/carts/alice/items", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, n.calls())
}

func TestUpdateAndRemove(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "3", Quantity: qty(1)})
	do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "8", Quantity: qty(1)})

	w := do(t, router, "PUT", "/api/v1/carts/alice/items", shop.UpdateItemRequest{ProductID: "3", Quantity: 4})
	require.Equal(t, http.StatusOK, w.Code)
	c := decodeCart(t, w)
	require.Len(t, c.Items, 2)
	assert.Equal(t, 4, c.Items[0].Quantity)

	w = do(t, router, "PUT", "/api/v1/carts/alice/items", shop.UpdateItemRequest{ProductID: "3", Quantity: 0})
	require.Equal(t, http.StatusOK, w.Code)
	c = decodeCart(t, w)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "8", c.Items[0].ProductID)

	w = do(t, router, "DELETE", "/api/v1/carts/alice/items", shop.RemoveItemRequest{ProductID: "8"})
	require.Equal(t, http.StatusOK, w.Code)
	c = decodeCart(t, w)
	assert.Empty(t, c.Items)
	assert.True(t, c.Shipping.IsZero())
	assert.True(t, c.Total.IsZero())
}

func TestCartsArePerUser(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "1", Quantity: qty(1)})

	w := do(t, router, "GET", "/api/v1/carts/bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeCart(t, w).Items)

	w = do(t, router, "DELETE", "/api/v1/carts/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeCart(t, w).Items)
}

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (brokenKV) Put(context.Context, string, []byte) error  { return errors.New("disk gone") }
func (brokenKV) Delete(context.Context, string) error       { return errors.New("disk gone") }

func TestCart_StorageUnavailable(t *testing.T) {
	_, router := newTestEnv(t, brokenKV{})

	w := do(t, router, "GET", "/api/v1/carts/alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// --- Checkout and order tests ---

func TestCheckout_PlacesOrderAndClearsCart(t *testing.T) {
	n, router := newTestEnv(t, store.NewMemoryKV())

	do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "1", Quantity: qty(1)})

	w := do(t, router, "POST", "/api/v1/carts/alice/checkout", order.CheckoutRequest{
		ShippingAddress: model.Address{FirstName: "Alice", City: "Portland"},
		CardNumber:      "4242424242424242",
		CardName:        "A. Shopper",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var placed model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))
	assert.Equal(t, order.StatusConfirmed, placed.Status)
	assert.Equal(t, "4242", placed.CardLast4)
	assert.True(t, placed.Subtotal.Equal(money("199.99")))
	assert.True(t, placed.Shipping.IsZero())

	w = do(t, router, "GET", "/api/v1/carts/alice", nil)
	assert.Empty(t, decodeCart(t, w).Items)

	w = do(t, router, "GET", "/api/v1/orders/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, placed.ID, orders[0].ID)

	// add + clear after checkout
	assert.Equal(t, []string{"alice", "alice"}, n.calls())
}

// stickyKV loses every delete.
type stickyKV struct{ *store.MemoryKV }

func (stickyKV) Delete(context.Context, string) error { return errors.New("read-only replica") }

func TestCheckout_OrderStandsWhenCartNotCleared(t *testing.T) {
	n, router := newTestEnv(t, stickyKV{store.NewMemoryKV()})

	do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "8", Quantity: qty(1)})

	w := do(t, router, "POST", "/api/v1/carts/alice/checkout", order.CheckoutRequest{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, "GET", "/api/v1/orders/alice", nil)
	var orders []model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)

	// only the add notified
	assert.Equal(t, []string{"alice"}, n.calls())
}

func TestCheckout_EmptyCart(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	w := do(t, router, "POST", "/api/v1/carts/alice/checkout", order.CheckoutRequest{})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOrderStatus(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	do(t, router, "POST", "/api/v1/carts/alice/items", shop.AddItemRequest{ProductID: "8", Quantity: qty(2)})
	w := do(t, router, "POST", "/api/v1/carts/alice/checkout", order.CheckoutRequest{})
	require.Equal(t, http.StatusCreated, w.Code)
	var placed model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w = do(t, router, "PUT", "/api/v1/orders/alice/"+placed.ID+"/status", shop.StatusRequest{Status: order.StatusShipped})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/orders/alice/"+placed.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, order.StatusShipped, got.Status)

	w = do(t, router, "PUT", "/api/v1/orders/alice/"+placed.ID+"/status", shop.StatusRequest{Status: "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/orders/bob/"+placed.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Product tests ---

func TestProducts(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	w := do(t, router, "GET", "/api/v1/products/4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p model.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "Smart Fitness Watch", p.Name)

	w = do(t, router, "GET", "/api/v1/products/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/products?category=Electronics&sort=price-low", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	for _, p := range list {
		assert.Equal(t, "Electronics", p.Category)
	}

	w = do(t, router, "GET", "/api/v1/products?min_price=cheap", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/products?in_stock=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/products/deals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deals []catalog.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deals))
	assert.NotEmpty(t, deals)

	w = do(t, router, "GET", "/api/v1/products/1/related?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func productIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list []model.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestProducts_SubcategoryHonorsOtherFilters(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	assert.Equal(t, []string{"1", "7"}, productIDs(t, do(t, router, "GET", "/api/v1/products?category=Electronics&subcategory=audio", nil)))
	assert.Equal(t, []string{"7"}, productIDs(t, do(t, router, "GET", "/api/v1/products?category=Electronics&subcategory=audio&max_price=100", nil)))
	assert.Equal(t, []string{"6", "3"}, productIDs(t, do(t, router, "GET", "/api/v1/products?subcategory=kitchen&sort=price-high", nil)))
}

// --- Category tests ---

func TestCategories(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	w := do(t, router, "GET", "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []model.Category
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 3)

	w = do(t, router, "GET", "/api/v1/categories/electronics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c model.Category
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "Electronics", c.Name)
	assert.Contains(t, c.Subcategories, "Audio")

	w = do(t, router, "GET", "/api/v1/categories/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "Clothing", c.Name)

	w = do(t, router, "GET", "/api/v1/categories/toys", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.ElementsMatch(t, []string{"3", "6"}, productIDs(t, do(t, router, "GET", "/api/v1/categories/home/products?subcategory=kitchen", nil)))

	w = do(t, router, "GET", "/api/v1/categories/toys/products", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Review tests ---

func TestReviews(t *testing.T) {
	_, router := newTestEnv(t, store.NewMemoryKV())

	w := do(t, router, "GET", "/api/v1/products/1/reviews", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(t, router, "POST", "/api/v1/products/1/reviews", review.NewReview{UserName: "alice", Rating: 5, Title: "Great", Comment: "Crisp sound"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.Review
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "1", created.ProductID)

	w = do(t, router, "POST", "/api/v1/reviews/"+created.ID+"/helpful", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var voted model.Review
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &voted))
	assert.Equal(t, 1, voted.Helpful)

	w = do(t, router, "GET", "/api/v1/products/1/reviews", nil)
	var list []model.Review
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Helpful)

	w = do(t, router, "POST", "/api/v1/products/1/reviews", review.NewReview{UserName: "bob", Rating: 9, Comment: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/products/404/reviews", review.NewReview{UserName: "bob", Rating: 3, Comment: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "POST", "/api/v1/reviews/nope/helpful", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviews_StorageUnavailable(t *testing.T) {
	_, router := newTestEnv(t, brokenKV{})

	w := do(t, router, "GET", "/api/v1/products/1/reviews", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// --- Rate limiting ---

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := shop.NewRateLimiter(ctx, 1, 1, time.Minute)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	other := httptest.NewRequest("GET", "/", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
