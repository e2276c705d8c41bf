// Package store defines the durable key-value persistence used by the
// storefront. Implementations include PostgreSQL, SQLite (local file),
// Redis (standalone or as a read-through cache over a primary), and
// in-memory (for testing).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists under the key.
var ErrNotFound = errors.New("store: key not found")

// KV is a durable byte store keyed by string. Values survive process
// restarts for every implementation except MemoryKV.
//
// Get returns ErrNotFound for an absent key; any other error means the
// medium itself is unavailable. Put replaces the value wholesale; the last
// write observed by the medium wins.
type KV interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
