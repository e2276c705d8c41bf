// Package shop provides the HTTP handlers of the storefront: product
// browsing, categories, reviews, per-user carts, checkout and order
// tracking.
//
// This package is the presentation layer for the cart: after every
// successful cart mutation it fires a "cart changed" notification so that
// independently rendered views (e.g. a header badge) can re-read the cart.
package shop

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/shophub/storefront/internal/cart"
	"github.com/shophub/storefront/internal/catalog"
	"github.com/shophub/storefront/internal/metrics"
	"github.com/shophub/storefront/internal/model"
	"github.com/shophub/storefront/internal/order"
	"github.com/shophub/storefront/internal/review"
)

const defaultRelatedLimit = 4

// Notifier receives a fire-and-forget signal after a cart changes.
// Implementations must not block.
type Notifier interface {
	CartChanged(userID string)
}

// ProductSource supplies product records and browsing queries.
type ProductSource interface {
	All() []model.Product
	Product(id string) (model.Product, error)
	ByCategory(category, subcategory string) []model.Product
	Search(query string, f catalog.Filters) []model.Product
	Featured() []model.Product
	Deals() []catalog.Deal
	Related(id string, limit int) []model.Product
}

// CategorySource supplies navigation categories.
type CategorySource interface {
	All() []model.Category
	ByID(id string) (model.Category, error)
	ByName(name string) (model.Category, error)
}

// Service wires the cart stores, product and category sources, order book
// and review book to HTTP.
type Service struct {
	carts      *cart.Registry
	products   ProductSource
	categories CategorySource
	orders     *order.Book
	reviews    *review.Book
	notifier   Notifier // optional
}

// NewService creates a new storefront service.
// Pass nil for notifier if change broadcasting is not needed.
func NewService(carts *cart.Registry, products ProductSource, categories CategorySource, orders *order.Book, reviews *review.Book, notifier Notifier) *Service {
	return &Service{
		carts:      carts,
		products:   products,
		categories: categories,
		orders:     orders,
		reviews:    reviews,
		notifier:   notifier,
	}
}

// Routes mounts every handler on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/products", s.ListProducts)
	r.Get("/products/deals", s.ListDeals)
	r.Get("/products/featured", s.ListFeatured)
	r.Get("/products/{productID}", s.GetProduct)
	r.Get("/products/{productID}/related", s.ListRelated)
	r.Get("/products/{productID}/reviews", s.ListReviews)
	r.Post("/products/{productID}/reviews", s.CreateReview)
	r.Post("/reviews/{reviewID}/helpful", s.MarkReviewHelpful)

	r.Get("/categories", s.ListCategories)
	r.Get("/categories/{category}", s.GetCategory)
	r.Get("/categories/{category}/products", s.ListCategoryProducts)

	r.Get("/carts/{userID}", s.GetCart)
	r.Delete("/carts/{userID}", s.ClearCart)
	r.Get("/carts/{userID}/count", s.GetItemCount)
	r.Post("/carts/{userID}/items", s.AddItem)
	r.Put("/carts/{userID}/items", s.UpdateItem)
	r.Delete("/carts/{userID}/items", s.RemoveItem)
	r.Post("/carts/{userID}/checkout", s.Checkout)

	r.Get("/orders/{userID}", s.ListOrders)
	r.Get("/orders/{userID}/{orderID}", s.GetOrder)
	r.Put("/orders/{userID}/{orderID}/status", s.UpdateOrderStatus)
}

// --- Request/Response types ---

// AddItemRequest is the JSON body for POST /carts/{userID}/items.
type AddItemRequest struct {
	ProductID       string        `json:"product_id"`
	Quantity        *int          `json:"quantity"` // defaults to 1
	SelectedOptions model.Options `json:"selected_options"`
}

// UpdateItemRequest is the JSON body for PUT /carts/{userID}/items.
// A quantity of zero or less removes the line.
type UpdateItemRequest struct {
	ProductID       string        `json:"product_id"`
	SelectedOptions model.Options `json:"selected_options"`
	Quantity        int           `json:"quantity"`
}

// RemoveItemRequest is the JSON body for DELETE /carts/{userID}/items.
type RemoveItemRequest struct {
	ProductID       string        `json:"product_id"`
	SelectedOptions model.Options `json:"selected_options"`
}

// ItemCountResponse is returned from GET /carts/{userID}/count.
type ItemCountResponse struct {
	Count int `json:"count"`
}

// StatusRequest is the JSON body for PUT /orders/{userID}/{orderID}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// --- Product handlers ---

// ListProducts handles GET /api/v1/products
// Query: q, category, subcategory, min_price, max_price, min_rating,
// in_stock, sort.
func (s *Service) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := catalog.Filters{
		Category:    q.Get("category"),
		Subcategory: q.Get("subcategory"),
		SortBy:      q.Get("sort"),
	}
	for param, dst := range map[string]**decimal.Decimal{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		if raw := q.Get(param); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				writeError(w, param+" must be a number", http.StatusBadRequest)
				return
			}
			*dst = &v
		}
	}
	if raw := q.Get("min_rating"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, "min_rating must be a number", http.StatusBadRequest)
			return
		}
		f.MinRating = &v
	}
	if raw := q.Get("in_stock"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, "in_stock must be a boolean", http.StatusBadRequest)
			return
		}
		f.InStock = v
	}

	writeJSON(w, http.StatusOK, nonNil(s.products.Search(q.Get("q"), f)))
}

// GetProduct handles GET /api/v1/products/{productID}
func (s *Service) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.products.Product(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, "product not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListRelated handles GET /api/v1/products/{productID}/related?limit=N
func (s *Service) ListRelated(w http.ResponseWriter, r *http.Request) {
	limit := defaultRelatedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = v
	}
	writeJSON(w, http.StatusOK, nonNil(s.products.Related(chi.URLParam(r, "productID"), limit)))
}

// ListDeals handles GET /api/v1/products/deals
func (s *Service) ListDeals(w http.ResponseWriter, _ *http.Request) {
	deals := s.products.Deals()
	if deals == nil {
		deals = []catalog.Deal{}
	}
	writeJSON(w, http.StatusOK, deals)
}

// ListFeatured handles GET /api/v1/products/featured
func (s *Service) ListFeatured(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.products.Featured()))
}

// --- Category handlers ---

// ListCategories handles GET /api/v1/categories
func (s *Service) ListCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.categories.All())
}

// GetCategory handles GET /api/v1/categories/{category}
// The path segment is a category name (any case) or id.
func (s *Service) GetCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.categoryFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListCategoryProducts handles GET /api/v1/categories/{category}/products?subcategory=
func (s *Service) ListCategoryProducts(w http.ResponseWriter, r *http.Request) {
	c, ok := s.categoryFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.products.ByCategory(c.Name, r.URL.Query().Get("subcategory"))))
}

func (s *Service) categoryFor(w http.ResponseWriter, r *http.Request) (model.Category, bool) {
	ref := chi.URLParam(r, "category")
	c, err := s.categories.ByName(ref)
	if err != nil {
		c, err = s.categories.ByID(ref)
	}
	if err != nil {
		writeError(w, "category not found", http.StatusNotFound)
		return model.Category{}, false
	}
	return c, true
}

// --- Review handlers ---

// ListReviews handles GET /api/v1/products/{productID}/reviews
func (s *Service) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.reviews.ForProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

// CreateReview handles POST /api/v1/products/{productID}/reviews
func (s *Service) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req review.NewReview
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	productID := chi.URLParam(r, "productID")
	if _, err := s.products.Product(productID); err != nil {
		writeError(w, "product not found: "+productID, http.StatusNotFound)
		return
	}

	rv, err := s.reviews.Create(r.Context(), productID, req)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

// MarkReviewHelpful handles POST /api/v1/reviews/{reviewID}/helpful
func (s *Service) MarkReviewHelpful(w http.ResponseWriter, r *http.Request) {
	rv, err := s.reviews.MarkHelpful(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

// --- Cart handlers ---

// GetCart handles GET /api/v1/carts/{userID}
func (s *Service) GetCart(w http.ResponseWriter, r *http.Request) {
	st, ok := s.cartFor(w, r)
	if !ok {
		return
	}
	c, err := st.Get(r.Context())
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetItemCount handles GET /api/v1/carts/{userID}/count
func (s *Service) GetItemCount(w http.ResponseWriter, r *http.Request) {
	st, ok := s.cartFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ItemCountResponse{Count: st.ItemCount()})
}

// AddItem handles POST /api/v1/carts/{userID}/items
// Snapshots the product from the product source and merges it into the cart.
func (s *Service) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if qty <= 0 {
		writeError(w, cart.ErrInvalidQuantity.Error(), http.StatusBadRequest)
		return
	}

	product, err := s.products.Product(req.ProductID)
	if err != nil {
		writeError(w, "product not found: "+req.ProductID, http.StatusNotFound)
		return
	}

	st, ok := s.cartFor(w, r)
	if !ok {
		return
	}
	c, err := st.AddItem(r.Context(), product, qty, req.SelectedOptions)
	if err != nil {
		writeCartError(w, err)
		return
	}

	slog.Info("cart item added",
		"user", chi.URLParam(r, "userID"),
		"product", product.ID,
		"qty", qty,
		"subtotal", c.Subtotal.String(),
	)
	s.cartChanged(r)
	writeJSON(w, http.StatusOK, c)
}

// UpdateItem handles PUT /api/v1/carts/{userID}/items
func (s *Service) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	st, ok := s.cartFor(w, r)
	if !ok {
		return
	}
	c, err := st.UpdateQuantity(r.Context(), req.ProductID, req.SelectedOptions, req.Quantity)
	if err != nil {
		writeCartError(w, err)
		return
	}
	s.cartChanged(r)
	writeJSON(w, http.StatusOK, c)
}

// RemoveItem handles DELETE /api/v1/carts/{userID}/items
func (s *Service) RemoveItem(w http.ResponseWriter, r *http.Request) {
	var req RemoveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	st, ok := s.cartFor(w, r)
	if !ok {
		return
	}
	c, err := st.RemoveItem(r.Context(), req.ProductID, req.SelectedOptions)
	if err != nil {
		writeCartError(w, err)
		return
	}
	s.cartChanged(r)
	writeJSON(w, http.StatusOK, c)
}

// ClearCart handles DELETE /api/v1/carts/{userID}
func (s *Service) ClearCart(w http.ResponseWriter, r *http.Request) {
	st, ok := s.cartFor(w, r)
	if !ok {
		return
	}
	c, err := st.Clear(r.Context())
	if err != nil {
		writeCartError(w, err)
		return
	}
	s.cartChanged(r)
	writeJSON(w, http.StatusOK, c)
}

// --- Order handlers ---

// Checkout handles POST /api/v1/carts/{userID}/checkout
// Places an order from the current cart, then empties the cart.
func (s *Service) Checkout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID := chi.URLParam(r, "userID")
	st, ok := s.cartFor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// Read and emptied under the cart's lock; concurrent adds land in the next cart.
	var placed *model.Order
	err := st.Consume(ctx, func(c *model.Cart) error {
		o, err := s.orders.Checkout(ctx, userID, c, req)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if placed == nil {
		switch {
		case errors.Is(err, order.ErrEmptyCart):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, order.ErrStorage):
			writeError(w, "failed to record order", http.StatusServiceUnavailable)
		case errors.Is(err, cart.ErrStorage):
			writeCartError(w, err)
		default:
			slog.Error("checkout failed", "user", userID, "err", err)
			writeError(w, "failed to place order", http.StatusInternalServerError)
		}
		return
	}
	metrics.OrdersPlaced.Inc()

	// The order stands even if the cart cannot be emptied.
	if err != nil {
		slog.Error("cart not cleared after checkout", "user", userID, "order_id", placed.ID, "err", err)
	} else {
		s.cartChanged(r)
	}

	writeJSON(w, http.StatusCreated, placed)
}

// ListOrders handles GET /api/v1/orders/{userID}
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load orders", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/orders/{userID}/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// UpdateOrderStatus handles PUT /api/v1/orders/{userID}/{orderID}/status
func (s *Service) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	o, err := s.orders.UpdateStatus(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	slog.Info("order status updated", "order_id", o.ID, "status", o.Status)
	writeJSON(w, http.StatusOK, o)
}

// --- Helpers ---

func (s *Service) cartFor(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	st, err := s.carts.For(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeCartError(w, err)
		return nil, false
	}
	return st, true
}

func (s *Service) cartChanged(r *http.Request) {
	if s.notifier != nil {
		s.notifier.CartChanged(chi.URLParam(r, "userID"))
	}
}

func writeCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, cart.ErrInvalidProduct):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, cart.ErrStorage):
		writeError(w, "cart storage unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("cart operation failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, "order not found", http.StatusNotFound)
	case errors.Is(err, order.ErrInvalidStatus):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, order.ErrStorage):
		writeError(w, "order storage unavailable", http.StatusServiceUnavailable)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrInvalidReview):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, review.ErrReviewNotFound):
		writeError(w, "review not found", http.StatusNotFound)
	case errors.Is(err, review.ErrStorage):
		writeError(w, "review storage unavailable", http.StatusServiceUnavailable)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func nonNil(ps []model.Product) []model.Product {
	if ps == nil {
		return []model.Product{}
	}
	return ps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
