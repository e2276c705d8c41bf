package cart

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/shophub/storefront/internal/pricing"
	"github.com/shophub/storefront/internal/store"
)

// DefaultRegistrySize is how many per-user stores a Registry keeps open.
const DefaultRegistrySize = 10000

const lockStripes = 256

// Registry hands out one Store per user, all sharing a storage medium.
// Each user's cart lives under its own key. Open stores are kept in an LRU;
// a user whose store was evicted gets a fresh one primed from storage.
//
// Operations for one user are serialized by a lock stripe chosen from the
// storage key, so an evicted store and its replacement never interleave.
type Registry struct {
	kv   store.KV
	calc *pricing.Calculator

	stores *lru.Cache // userID -> *Store
	locks  [lockStripes]sync.Mutex
	mu     sync.Mutex // guards insertion into stores, never held across I/O
}

// NewRegistry creates a registry over kv with DefaultRegistrySize. Pass nil
// for calc to use the default pricing policy.
func NewRegistry(kv store.KV, calc *pricing.Calculator) *Registry {
	return NewRegistrySize(kv, calc, DefaultRegistrySize)
}

// NewRegistrySize is NewRegistry keeping at most size stores open.
func NewRegistrySize(kv store.KV, calc *pricing.Calculator, size int) *Registry {
	if calc == nil {
		calc = pricing.Default()
	}
	if size <= 0 {
		size = DefaultRegistrySize
	}
	stores, _ := lru.New(size) // errors only for size <= 0
	return &Registry{
		kv:     kv,
		calc:   calc,
		stores: stores,
	}
}

// KeyFor returns the storage key of userID's cart. The empty user maps to
// DefaultKey.
func KeyFor(userID string) string {
	if userID == "" {
		return DefaultKey
	}
	return DefaultKey + ":" + userID
}

// For returns userID's store, opening it on first use. Opening reads the
// persisted cart without holding any registry-wide lock.
func (r *Registry) For(ctx context.Context, userID string) (*Store, error) {
	if s, ok := r.stores.Get(userID); ok {
		return s.(*Store), nil
	}

	key := KeyFor(userID)
	s := newStore(r.kv, key, r.calc, r.lockFor(key))
	if _, err := s.Get(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.stores.Get(userID); ok {
		return existing.(*Store), nil
	}
	r.stores.Add(userID, s)
	return s, nil
}

// Len reports how many stores are open.
func (r *Registry) Len() int {
	return r.stores.Len()
}

func (r *Registry) lockFor(key string) *sync.Mutex {
	return &r.locks[xxhash.Sum64String(key)%lockStripes]
}
