package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/observability"
)

// Payload framing for the shared tier. The first byte tells the reader
// whether the remainder is raw or zstd-compressed, so the compression
// threshold can change without invalidating existing entries.
const (
	encodingRaw  byte = 0x00
	encodingZstd byte = 0x01
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0))
)

// redisTier implements the shared Tier-2 cache on Redis. Entries carry a
// server-side TTL; payloads above the compression threshold are stored
// zstd-compressed.
type redisTier struct {
	logger            observability.Logger
	client            redis.UniversalClient
	keyPrefix         string
	defaultTTL        time.Duration
	ttlJitter         float64
	compressThreshold int
	ownsClient        bool

	hits   int64
	misses int64
}

// NewRedisTier connects to Redis and returns the shared cache tier.
func NewRedisTier(
	redisCfg *config.RedisConfig, cacheCfg *config.CacheConfig, logger observability.Logger,
) (TierWithTTL, error) {
	if redisCfg == nil || redisCfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	if redisCfg.PoolSize > 0 {
		opts.PoolSize = redisCfg.PoolSize
	}
	if d := redisCfg.ConnectTimeout.Duration(); d > 0 {
		opts.DialTimeout = d
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	t := newRedisTier(client, cacheCfg, logger)
	t.ownsClient = true

	t.logger.Info("tier2 cache initialized",
		observability.String("keyPrefix", t.keyPrefix),
		observability.Duration("defaultTTL", t.defaultTTL),
		observability.Int("compressThreshold", t.compressThreshold))

	return t, nil
}

// NewRedisTierWithClient wraps an existing Redis client. The caller keeps
// ownership of the client.
func NewRedisTierWithClient(
	client redis.UniversalClient, cacheCfg *config.CacheConfig, logger observability.Logger,
) TierWithTTL {
	return newRedisTier(client, cacheCfg, logger)
}

func newRedisTier(
	client redis.UniversalClient, cacheCfg *config.CacheConfig, logger observability.Logger,
) *redisTier {
	if logger == nil {
		logger = observability.NopLogger()
	}

	prefix := config.DefaultKeyPrefix
	ttl := config.DefaultCacheTTL
	threshold := config.DefaultCompressThreshold
	jitter := 0.0

	if cacheCfg != nil {
		if cacheCfg.KeyPrefix != "" {
			prefix = cacheCfg.KeyPrefix
		}
		if d := cacheCfg.TTL.Duration(); d > 0 {
			ttl = d
		}
		if cacheCfg.CompressThreshold > 0 {
			threshold = cacheCfg.CompressThreshold
		}
		jitter = cacheCfg.TTLJitter
	}

	return &redisTier{
		logger:            logger,
		client:            client,
		keyPrefix:         prefix,
		defaultTTL:        ttl,
		ttlJitter:         jitter,
		compressThreshold: threshold,
	}
}

// applyTTLJitter adds random jitter to a TTL value so entries written
// together do not all expire together. A jitterFactor of 0.1 varies the
// TTL by up to ±10%.
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

func (t *redisTier) resolveKey(key string) string {
	return t.keyPrefix + key
}

// encode frames the payload, compressing it when it crosses the threshold.
func (t *redisTier) encode(value []byte) []byte {
	if len(value) >= t.compressThreshold {
		buf := make([]byte, 1, len(value)/2+1)
		buf[0] = encodingZstd
		GetCacheMetrics().compressedTotal.Inc()
		return zstdEncoder.EncodeAll(value, buf)
	}
	buf := make([]byte, 1+len(value))
	buf[0] = encodingRaw
	copy(buf[1:], value)
	return buf
}

// decode reverses encode.
func (t *redisTier) decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty cache payload")
	}
	switch payload[0] {
	case encodingRaw:
		return payload[1:], nil
	case encodingZstd:
		out, err := zstdDecoder.DecodeAll(payload[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing cache payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown cache payload encoding 0x%02x", payload[0])
	}
}

// Get retrieves and decodes a value.
func (t *redisTier) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"tier2", "get",
		).Observe(time.Since(start).Seconds())
	}()

	payload, err := t.client.Get(ctx, t.resolveKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&t.misses, 1)
			GetCacheMetrics().missesTotal.WithLabelValues("tier2").Inc()
			return nil, ErrCacheMiss
		}
		GetCacheMetrics().errorsTotal.WithLabelValues("tier2", "get").Inc()
		return nil, fmt.Errorf("tier2 get: %w", err)
	}

	value, err := t.decode(payload)
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("tier2", "get").Inc()
		return nil, err
	}

	atomic.AddInt64(&t.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues("tier2").Inc()

	return value, nil
}

// GetWithTTL retrieves a value together with its remaining server-side
// TTL, so callers can carry the residual lifetime into another tier.
func (t *redisTier) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	fullKey := t.resolveKey(key)

	pipe := t.client.Pipeline()
	getCmd := pipe.Get(ctx, fullKey)
	ttlCmd := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&t.misses, 1)
			GetCacheMetrics().missesTotal.WithLabelValues("tier2").Inc()
			return nil, 0, ErrCacheMiss
		}
		GetCacheMetrics().errorsTotal.WithLabelValues("tier2", "get").Inc()
		return nil, 0, fmt.Errorf("tier2 get: %w", err)
	}

	value, err := t.decode([]byte(getCmd.Val()))
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("tier2", "get").Inc()
		return nil, 0, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		// -1 means no expiry is set on the key.
		ttl = 0
	}

	atomic.AddInt64(&t.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues("tier2").Inc()

	return value, ttl, nil
}

// Set encodes and stores a value with a jittered TTL.
func (t *redisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"tier2", "set",
		).Observe(time.Since(start).Seconds())
	}()

	if ttl == 0 {
		ttl = t.defaultTTL
	}
	ttl = applyTTLJitter(ttl, t.ttlJitter)

	payload := t.encode(value)

	if err := t.client.Set(ctx, t.resolveKey(key), payload, ttl).Err(); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("tier2", "set").Inc()
		return fmt.Errorf("tier2 set: %w", err)
	}

	return nil
}

// Delete removes a value. Removing an absent key is a no-op.
func (t *redisTier) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"tier2", "delete",
		).Observe(time.Since(start).Seconds())
	}()

	if err := t.client.Del(ctx, t.resolveKey(key)).Err(); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("tier2", "delete").Inc()
		return fmt.Errorf("tier2 delete: %w", err)
	}

	return nil
}

// Close releases the Redis client if this tier created it.
func (t *redisTier) Close() error {
	if t.ownsClient {
		return t.client.Close()
	}
	return nil
}

// Stats returns tier statistics. Entry and byte counts are not tracked
// for the shared tier since Redis owns the keyspace.
func (t *redisTier) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&t.hits),
		Misses: atomic.LoadInt64(&t.misses),
	}
}
