// Package timeout bounds the two classes of outbound work the resilience
// layer performs: dependency calls and shared-store round trips.
package timeout

import (
	"context"
	"time"
)

// Default timeout values.
const (
	// DefaultCall bounds a single dependency attempt.
	DefaultCall = 30 * time.Second

	// DefaultStore bounds a shared-store round trip. Store operations
	// sit on the hot path, so the bound is tight.
	DefaultStore = 2 * time.Second
)

// Timeout holds the deadlines applied to outbound operations.
type Timeout struct {
	call  time.Duration
	store time.Duration
}

// New creates a Timeout. Non-positive values take the package defaults.
func New(call, store time.Duration) *Timeout {
	if call <= 0 {
		call = DefaultCall
	}
	if store <= 0 {
		store = DefaultStore
	}
	return &Timeout{call: call, store: store}
}

// NewWithDefaults creates a Timeout with default values.
func NewWithDefaults() *Timeout {
	return New(0, 0)
}

// CallContext returns a context bounding one dependency attempt.
func (t *Timeout) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.call <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.call)
}

// StoreContext returns a context bounding one shared-store round trip.
func (t *Timeout) StoreContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.store <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.store)
}

// Call returns the dependency call timeout.
func (t *Timeout) Call() time.Duration {
	return t.call
}

// Store returns the store round-trip timeout.
func (t *Timeout) Store() time.Duration {
	return t.store
}

// StoreContext bounds a shared-store round trip with the default store
// timeout, for callers that do not carry a Timeout.
func StoreContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultStore)
}
