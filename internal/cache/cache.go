// Package cache implements the two-tier cache for dependency call results.
//
// Tier-1 is process-local and bounded; it exists only for the lifetime of a
// warm instance and optimizes repeated calls within it. Tier-2 is the shared
// Redis layer and is the cross-instance source of truth. Cache entries are
// advisory: absence or tier unavailability changes latency and cost, never
// correctness.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidInput indicates invalid key derivation inputs.
	ErrInvalidInput = errors.New("invalid cache key input")
)

// Tier is a single cache tier.
type Tier interface {
	// Get retrieves a value from the tier.
	// Returns ErrCacheMiss if the key is not found or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the tier with the given TTL.
	// A TTL of 0 applies the tier's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the tier. Idempotent.
	Delete(ctx context.Context, key string) error

	// Close releases tier resources.
	Close() error
}

// TierWithTTL extends Tier with TTL-aware reads, used for promotion so a
// promoted entry never outlives its Tier-2 original.
type TierWithTTL interface {
	Tier

	// GetWithTTL retrieves a value and its remaining TTL.
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
}

// Origin identifies which tier satisfied a lookup.
type Origin int

const (
	// OriginNone means the lookup missed both tiers.
	OriginNone Origin = iota

	// OriginTier1 means the process-local tier hit.
	OriginTier1

	// OriginTier2 means the shared tier hit.
	OriginTier2
)

// String returns the string representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginTier1:
		return "tier1"
	case OriginTier2:
		return "tier2"
	default:
		return "none"
	}
}

// Stats contains cache tier statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Entries is the current number of entries.
	Entries int64

	// Bytes is the current payload size in bytes.
	Bytes int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
