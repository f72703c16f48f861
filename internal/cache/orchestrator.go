package cache

import (
	"context"
	"errors"
	"time"

	"github.com/askelement/relay/internal/observability"
)

// Orchestrator coordinates reads and writes across the two cache tiers.
// Tier-1 is consulted first; a Tier-2 hit is promoted into Tier-1 with
// the entry's remaining lifetime so the promoted copy never outlives the
// shared one. Tier-2 failures degrade the cache to Tier-1 only and are
// never surfaced to callers.
type Orchestrator struct {
	logger observability.Logger
	tier1  Tier
	tier2  TierWithTTL
}

// NewOrchestrator builds the orchestrator. tier2 may be nil, in which
// case the cache runs process-local only.
func NewOrchestrator(tier1 Tier, tier2 TierWithTTL, logger observability.Logger) *Orchestrator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Orchestrator{
		logger: logger,
		tier1:  tier1,
		tier2:  tier2,
	}
}

// Get looks a key up in Tier-1 then Tier-2, promoting Tier-2 hits. The
// returned Origin reports which tier served the value. A miss in both
// tiers returns ErrCacheMiss with OriginNone.
func (o *Orchestrator) Get(ctx context.Context, key string) ([]byte, Origin, error) {
	value, err := o.tier1.Get(ctx, key)
	if err == nil {
		return value, OriginTier1, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		o.logger.Warn("tier1 lookup failed",
			observability.String("key", key),
			observability.Error(err))
	}

	if o.tier2 == nil {
		return nil, OriginNone, ErrCacheMiss
	}

	value, remaining, err := o.tier2.GetWithTTL(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			// Shared tier unavailable: degrade silently to tier1-only.
			o.logger.Warn("tier2 lookup failed, serving without shared cache",
				observability.String("key", key),
				observability.Error(err))
		}
		return nil, OriginNone, ErrCacheMiss
	}

	o.promote(ctx, key, value, remaining)

	return value, OriginTier2, nil
}

// promote copies a Tier-2 hit into Tier-1 carrying the remaining shared
// TTL, so freshness stays bounded by the original write.
func (o *Orchestrator) promote(ctx context.Context, key string, value []byte, remaining time.Duration) {
	if remaining <= 0 {
		return
	}
	if err := o.tier1.Set(ctx, key, value, remaining); err != nil {
		o.logger.Warn("tier1 promotion failed",
			observability.String("key", key),
			observability.Error(err))
		return
	}
	GetCacheMetrics().promotionsTotal.Inc()
}

// Set writes through both tiers. A Tier-2 write failure is logged and
// swallowed; the Tier-1 copy still serves this instance.
func (o *Orchestrator) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := o.tier1.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	if o.tier2 != nil {
		if err := o.tier2.Set(ctx, key, value, ttl); err != nil {
			o.logger.Warn("tier2 write failed, entry is process-local only",
				observability.String("key", key),
				observability.Error(err))
		}
	}

	return nil
}

// Invalidate removes a key from both tiers.
func (o *Orchestrator) Invalidate(ctx context.Context, key string) error {
	err := o.tier1.Delete(ctx, key)

	if o.tier2 != nil {
		if err2 := o.tier2.Delete(ctx, key); err2 != nil {
			o.logger.Warn("tier2 invalidation failed",
				observability.String("key", key),
				observability.Error(err2))
		}
	}

	return err
}

// Close closes both tiers.
func (o *Orchestrator) Close() error {
	err := o.tier1.Close()
	if o.tier2 != nil {
		if err2 := o.tier2.Close(); err == nil {
			err = err2
		}
	}
	return err
}
