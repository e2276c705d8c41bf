// Package order records checkouts. Each user's orders are kept as one list
// under a single storage key, like the cart. Orders are immutable snapshots
// of the cart at checkout; only their status changes afterwards.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shophub/storefront/internal/model"
	"github.com/shophub/storefront/internal/store"
)

// DefaultKey is the storage key prefix of order lists.
const DefaultKey = "shophub_orders"

// Order statuses, in fulfilment order.
const (
	StatusConfirmed      = "confirmed"
	StatusProcessing     = "processing"
	StatusShipped        = "shipped"
	StatusOutForDelivery = "out-for-delivery"
	StatusDelivered      = "delivered"
	StatusCancelled      = "cancelled"
)

var validStatuses = map[string]bool{
	StatusConfirmed:      true,
	StatusProcessing:     true,
	StatusShipped:        true,
	StatusOutForDelivery: true,
	StatusDelivered:      true,
	StatusCancelled:      true,
}

var (
	ErrEmptyCart     = errors.New("order: cart is empty")
	ErrOrderNotFound = errors.New("order: order not found")
	ErrInvalidStatus = errors.New("order: unsupported status")
	ErrStorage       = errors.New("order: storage unavailable")
)

// CheckoutRequest carries what the shopper enters at checkout.
type CheckoutRequest struct {
	ShippingAddress model.Address `json:"shipping_address"`
	CardNumber      string        `json:"card_number"` // only the last four digits are kept
	CardName        string        `json:"card_name"`
	Notes           string        `json:"notes"`
}

// Book stores orders in a KV medium. Safe for concurrent use within one
// process.
type Book struct {
	kv  store.KV
	now func() time.Time
	mu  sync.Mutex
}

// NewBook creates an order book over kv.
func NewBook(kv store.KV) *Book {
	return &Book{
		kv:  kv,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// KeyFor returns the storage key of userID's order list.
func KeyFor(userID string) string {
	if userID == "" {
		return DefaultKey
	}
	return DefaultKey + ":" + userID
}

// Checkout snapshots cart into a new confirmed order for userID. The caller
// is responsible for clearing the cart afterwards.
func (b *Book) Checkout(ctx context.Context, userID string, cart *model.Cart, req CheckoutRequest) (*model.Order, error) {
	if cart == nil || len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	snapshot := cart.Clone()
	o := model.Order{
		ID:              uuid.New().String(),
		UserID:          userID,
		Items:           snapshot.Items,
		ShippingAddress: req.ShippingAddress,
		CardLast4:       last4(req.CardNumber),
		CardName:        req.CardName,
		Notes:           req.Notes,
		Subtotal:        snapshot.Subtotal,
		Tax:             snapshot.Tax,
		Shipping:        snapshot.Shipping,
		Total:           snapshot.Total,
		Status:          StatusConfirmed,
		CreatedAt:       b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	orders, err := b.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	orders = append(orders, o)
	if err := b.save(ctx, userID, orders); err != nil {
		return nil, err
	}

	slog.Info("order placed",
		"order_id", o.ID,
		"user", userID,
		"items", len(o.Items),
		"total", o.Total.String(),
	)
	return &o, nil
}

// List returns userID's orders, oldest first.
func (b *Book) List(ctx context.Context, userID string) ([]model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.load(ctx, userID)
}

// Get returns one of userID's orders.
func (b *Book) Get(ctx context.Context, userID, orderID string) (*model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders, err := b.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(orders, func(o model.Order) bool { return o.ID == orderID })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return &orders[i], nil
}

// UpdateStatus moves an order to status.
func (b *Book) UpdateStatus(ctx context.Context, userID, orderID, status string) (*model.Order, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	orders, err := b.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(orders, func(o model.Order) bool { return o.ID == orderID })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	orders[i].Status = status
	if err := b.save(ctx, userID, orders); err != nil {
		return nil, err
	}
	o := orders[i]
	return &o, nil
}

// load reads the order list. A missing or unreadable list is empty.
func (b *Book) load(ctx context.Context, userID string) ([]model.Order, error) {
	data, err := b.kv.Get(ctx, KeyFor(userID))
	if errors.Is(err, store.ErrNotFound) {
		return []model.Order{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	var orders []model.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		slog.Warn("discarding unreadable order list", "user", userID, "err", err)
		return []model.Order{}, nil
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

func (b *Book) save(ctx context.Context, userID string, orders []model.Order) error {
	data, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("encode orders: %w", err)
	}
	if err := b.kv.Put(ctx, KeyFor(userID), data); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func last4(card string) string {
	digits := make([]rune, 0, len(card))
	for _, r := range card {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return string(digits)
}
