// Package store provides the shared key/value store used for cross-instance
// state: circuit breaker counters and coordination keys. Mutations that
// multiple instances may race on go through atomic primitives (Incr,
// CompareAndSwap, SetNX), never read-modify-write over two round trips.
package store

import (
	"context"
	"errors"
	"time"
)

// Common store errors.
var (
	// ErrNotFound indicates that the key does not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrUnavailable indicates that the store could not be reached.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the shared key/value store interface.
type Store interface {
	// Get retrieves a value. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with the given TTL. A TTL of 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments an integer value, creating it at 1 when
	// absent, and refreshes the TTL. Returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetNX stores a value only if the key does not exist. Returns true
	// when the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value only if the current value equals
	// old. Returns true when the swap happened. The comparison and write
	// are atomic with respect to other store clients.
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)

	// Close releases store resources.
	Close() error
}
