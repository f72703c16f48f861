package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/observability"
)

// casScript atomically compares the current value with ARGV[1] and, on match,
// writes ARGV[2] with a TTL of ARGV[3] milliseconds (0 keeps the key
// persistent). Running as a script makes the compare-and-set a single
// round trip with no lost-update window.
var casScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
	if tonumber(ARGV[3]) > 0 then
		redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	else
		redis.call("SET", KEYS[1], ARGV[2])
	end
	return 1
end
return 0
`)

// incrScript atomically increments a counter and refreshes its TTL.
var incrScript = redis.NewScript(`
local value = redis.call("INCR", KEYS[1])
if tonumber(ARGV[1]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return value
`)

// redisStore implements Store over a Redis client.
type redisStore struct {
	client  redis.UniversalClient
	logger  observability.Logger
	ownsCli bool
}

// NewRedis creates a Store from Redis configuration, establishing and
// verifying the connection.
func NewRedis(cfg *config.RedisConfig, logger observability.Logger) (Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.New("invalid redis URL: " + err.Error())
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New("redis connection failed: " + err.Error())
	}

	logger.Info("shared store connected",
		observability.Int("poolSize", opts.PoolSize))

	return &redisStore{client: client, logger: logger, ownsCli: true}, nil
}

// NewRedisWithClient wraps an existing Redis client. The caller retains
// ownership of the client; Close becomes a no-op.
func NewRedisWithClient(client redis.UniversalClient, logger observability.Logger) Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &redisStore{client: client, logger: logger}
}

// Get retrieves a value.
func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	return val, nil
}

// Set stores a value.
func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Delete removes a key.
func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Incr atomically increments a counter and refreshes its TTL.
func (s *redisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	return res, nil
}

// SetNX stores a value only if the key does not exist.
func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Join(ErrUnavailable, err)
	}
	return ok, nil
}

// CompareAndSwap atomically replaces the value if it equals old.
func (s *redisStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	res, err := casScript.Run(ctx, s.client, []string{key}, old, new, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Join(ErrUnavailable, err)
	}
	return res == 1, nil
}

// Close closes the underlying client when this store created it.
func (s *redisStore) Close() error {
	if !s.ownsCli {
		return nil
	}
	return s.client.Close()
}
