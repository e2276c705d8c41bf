// Package cart owns the authoritative cart state: line items merged by
// identity, totals derived from them, and persistence of the whole record
// under one storage key.
//
// Read corruption is recovered silently (the cart becomes empty); storage
// I/O failures are surfaced as ErrStorage and never reported as success.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shophub/storefront/internal/metrics"
	"github.com/shophub/storefront/internal/model"
	"github.com/shophub/storefront/internal/pricing"
	"github.com/shophub/storefront/internal/store"
)

// DefaultKey is the well-known storage key of the single-session cart.
const DefaultKey = "shophub_cart"

var (
	// ErrInvalidQuantity is returned when an add asks for fewer than one
	// unit, or for more than a line can hold.
	ErrInvalidQuantity = errors.New("cart: quantity must be a positive integer")

	// ErrInvalidProduct is returned when the product lacks an identifier.
	ErrInvalidProduct = errors.New("cart: product id is required")

	// ErrStorage wraps failures of the underlying storage medium. The
	// operation's effect must be assumed not applied.
	ErrStorage = errors.New("cart: storage unavailable")
)

// Store is the single owner of one cart. Operations on a Store are applied
// in call order. Two processes writing the same key are not coordinated;
// the last write the medium observes wins.
type Store struct {
	kv   store.KV
	key  string
	calc *pricing.Calculator

	mu    *sync.Mutex  // serializes load-mutate-persist cycles; may be shared
	count atomic.Int64 // item count of the last cart loaded or saved
}

// NewStore creates a cart store persisting under key. Pass nil for calc to
// use the default pricing policy.
func NewStore(kv store.KV, key string, calc *pricing.Calculator) *Store {
	if calc == nil {
		calc = pricing.Default()
	}
	return newStore(kv, key, calc, new(sync.Mutex))
}

func newStore(kv store.KV, key string, calc *pricing.Calculator, mu *sync.Mutex) *Store {
	return &Store{kv: kv, key: key, calc: calc, mu: mu}
}

// Open creates a store and loads the persisted cart so that ItemCount is
// accurate before the first mutation.
func Open(ctx context.Context, kv store.KV, key string, calc *pricing.Calculator) (*Store, error) {
	s := NewStore(kv, key, calc)
	if _, err := s.Get(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Key returns the storage key this store persists under.
func (s *Store) Key() string {
	return s.key
}

// Get returns a deep copy of the persisted cart, or the empty cart when
// nothing (or nothing readable) is stored.
func (s *Store) Get(ctx context.Context) (*model.Cart, error) {
	defer metrics.ObserveCartOp("get", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// AddItem merges quantity units of product with the given options into the
// cart. A line with the same product id and the same options (in any key
// order) has its quantity increased; otherwise a snapshot line is appended.
// No stock cap is applied.
func (s *Store) AddItem(ctx context.Context, product model.Product, quantity int, opts model.Options) (*model.Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if product.ID == "" {
		return nil, ErrInvalidProduct
	}
	id, err := newIdentity(product.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}

	return s.mutate(ctx, "add", func(c *model.Cart) (bool, error) {
		if i := indexOf(c.Items, id); i >= 0 {
			if c.Items[i].Quantity > math.MaxInt-quantity {
				return false, fmt.Errorf("%w: line for %s would exceed %d units", ErrInvalidQuantity, product.ID, math.MaxInt)
			}
			c.Items[i].Quantity += quantity
			return true, nil
		}
		c.Items = append(c.Items, model.LineItem{
			ProductID:       product.ID,
			Name:            product.Name,
			Price:           product.Price,
			OriginalPrice:   product.OriginalPrice,
			Image:           product.PrimaryImage(),
			Quantity:        quantity,
			SelectedOptions: opts.Clone(),
			InStock:         product.InStock,
			StockCount:      product.StockCount,
		})
		return true, nil
	})
}

// UpdateQuantity sets the quantity of the matching line. A quantity of zero
// or less removes the line. When no line matches, the current cart is
// returned unchanged and nothing is written.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, opts model.Options, quantity int) (*model.Cart, error) {
	id, err := newIdentity(productID, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}

	return s.mutate(ctx, "update", func(c *model.Cart) (bool, error) {
		i := indexOf(c.Items, id)
		if i < 0 {
			return false, nil
		}
		if quantity <= 0 {
			c.Items = removeAt(c.Items, i)
		} else {
			c.Items[i].Quantity = quantity
		}
		return true, nil
	})
}

// RemoveItem deletes the matching line if present.
func (s *Store) RemoveItem(ctx context.Context, productID string, opts model.Options) (*model.Cart, error) {
	id, err := newIdentity(productID, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}

	return s.mutate(ctx, "remove", func(c *model.Cart) (bool, error) {
		if i := indexOf(c.Items, id); i >= 0 {
			c.Items = removeAt(c.Items, i)
		}
		return true, nil
	})
}

// Clear resets the cart to the empty state by deleting its record. An
// absent record reads back as the empty cart.
func (s *Store) Clear(ctx context.Context) (*model.Cart, error) {
	defer metrics.ObserveCartOp("clear", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reset(ctx); err != nil {
		return nil, err
	}
	metrics.CartMutations.WithLabelValues("clear").Inc()
	return Empty(), nil
}

// Consume hands a copy of the cart to fn and, when fn succeeds, clears the
// cart. No other operation on this store runs between the read and the
// clear. A failed clear after fn succeeded is returned wrapped in
// ErrStorage; fn's own effects stand.
func (s *Store) Consume(ctx context.Context, fn func(*model.Cart) error) error {
	defer metrics.ObserveCartOp("consume", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(c.Clone()); err != nil {
		return err
	}
	if err := s.reset(ctx); err != nil {
		return err
	}
	metrics.CartMutations.WithLabelValues("consume").Inc()
	return nil
}

// ItemCount returns the total quantity across lines of the cart this store
// last loaded or saved. It never blocks on storage.
func (s *Store) ItemCount() int {
	return int(s.count.Load())
}

// mutate runs one load, change, recompute and persist cycle. fn reports
// whether it changed anything; an unchanged cart is not written. An error
// from fn aborts before anything is written.
func (s *Store) mutate(ctx context.Context, op string, fn func(*model.Cart) (bool, error)) (*model.Cart, error) {
	defer metrics.ObserveCartOp(op, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	changed, err := fn(c)
	if err != nil {
		return nil, err
	}
	if !changed {
		return c.Clone(), nil
	}

	s.calc.Apply(c)
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	metrics.CartMutations.WithLabelValues(op).Inc()
	return c.Clone(), nil
}

func (s *Store) load(ctx context.Context) (*model.Cart, error) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, store.ErrNotFound) {
		c := Empty()
		s.count.Store(0)
		return c, nil
	}
	if err != nil {
		metrics.StorageErrors.WithLabelValues("read").Inc()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	c, err := Decode(data, s.calc)
	if err != nil {
		metrics.CorruptCartPayloads.Inc()
		slog.Warn("discarding unreadable cart payload", "key", s.key, "err", err)
		c = Empty()
	}
	s.count.Store(int64(c.ItemCount()))
	return c, nil
}

func (s *Store) save(ctx context.Context, c *model.Cart) error {
	data, err := Encode(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		metrics.StorageErrors.WithLabelValues("write").Inc()
		slog.Error("cart write failed", "key", s.key, "err", err)
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.count.Store(int64(c.ItemCount()))
	return nil
}

func (s *Store) reset(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		metrics.StorageErrors.WithLabelValues("write").Inc()
		slog.Error("cart delete failed", "key", s.key, "err", err)
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.count.Store(0)
	return nil
}

// removeAt deletes index i preserving the order of the remaining items.
func removeAt(items []model.LineItem, i int) []model.LineItem {
	return append(items[:i], items[i+1:]...)
}
