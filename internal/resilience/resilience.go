// Package resilience composes the caching, retry, circuit breaking, and
// dead-letter layers behind a single call surface. Callers hand it an
// operation bound for a dependency; it decides whether the dependency is
// called at all, how often, and what happens to requests it gives up on.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askelement/relay/internal/cache"
	"github.com/askelement/relay/internal/circuitbreaker"
	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/deadletter"
	"github.com/askelement/relay/internal/failure"
	"github.com/askelement/relay/internal/notify"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/retry"
	"github.com/askelement/relay/internal/store"
)

// Operation is a single logical call against a dependency. The resilience
// layer invokes it one or more times, each invocation bounded by a
// per-attempt context.
type Operation func(ctx context.Context) ([]byte, error)

// Resilience is the facade over the resilience layers.
type Resilience struct {
	cfg      *config.Config
	logger   observability.Logger
	sink     notify.Sink
	cache    *cache.Orchestrator
	breakers *circuitbreaker.Registry
	executor *retry.Executor
	router   *deadletter.Router

	redisClient redis.UniversalClient
	sharedStore store.Store
	ownsClient  bool
}

// Option configures the Resilience constructor.
type Option func(*Resilience)

// WithLogger injects a logger instead of building one from config.
func WithLogger(logger observability.Logger) Option {
	return func(r *Resilience) { r.logger = logger }
}

// WithSink injects an operator notification sink. Defaults to a LogSink.
func WithSink(sink notify.Sink) Option {
	return func(r *Resilience) { r.sink = sink }
}

// WithRedisClient injects an existing Redis client instead of dialing
// cfg.Redis.URL. The caller keeps ownership of the client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(r *Resilience) { r.redisClient = client }
}

// New builds the full resilience stack from configuration: the two cache
// tiers, the breaker registry on the shared store, the retry executor,
// and the dead-letter router. The shared Redis store is required; inject
// a client with WithRedisClient or set redis.url.
func New(cfg *config.Config, opts ...Option) (*Resilience, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	r := &Resilience{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		logger, err := observability.NewLogger(observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
		r.logger = logger
	}
	if r.sink == nil {
		r.sink = notify.NewLogSink(r.logger)
	}

	if r.redisClient == nil {
		if cfg.Redis.URL == "" {
			return nil, errors.New("shared store required: set redis.url or inject a client")
		}
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		if cfg.Redis.PoolSize > 0 {
			redisOpts.PoolSize = cfg.Redis.PoolSize
		}
		client := redis.NewClient(redisOpts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}

		r.redisClient = client
		r.ownsClient = true
	}

	r.sharedStore = store.NewRedisWithClient(r.redisClient, r.logger)

	tier1 := cache.NewMemoryTier(&cfg.Cache, r.logger)
	tier2 := cache.NewRedisTierWithClient(r.redisClient, &cfg.Cache, r.logger)
	r.cache = cache.NewOrchestrator(tier1, tier2, r.logger)

	r.breakers = circuitbreaker.NewRegistry(cfg, r.sharedStore, r.sink, r.logger)
	r.executor = retry.NewExecutor(r.logger)
	r.router = deadletter.NewRouter(r.redisClient, &cfg.DeadLetter, r.sink, r.logger)

	r.logger.Info("resilience layer initialized",
		observability.Int("dependencies", len(cfg.Dependencies)))

	return r, nil
}

// Close releases the cache tiers and, when owned, the Redis client.
func (r *Resilience) Close() error {
	err := r.cache.Close()
	if r.ownsClient {
		if cerr := r.redisClient.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// CallOption configures one Call.
type CallOption func(*callOptions)

type callOptions struct {
	useCache      bool
	userID        string
	operationType string
	content       []byte
	ttl           time.Duration
	requestID     string
}

// WithCache enables result caching for this call, keyed by user, operation
// type, and request content.
func WithCache(userID, operationType string, content []byte) CallOption {
	return func(o *callOptions) {
		o.useCache = true
		o.userID = userID
		o.operationType = operationType
		o.content = content
	}
}

// WithTTL overrides the configured cache TTL for this call's result.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithRequestID attaches an explicit request ID, used for log correlation
// and the dead-letter record.
func WithRequestID(id string) CallOption {
	return func(o *callOptions) { o.requestID = id }
}

// Call runs op against the named dependency under the full resilience
// stack. The error, when non-nil, is one of *ValidationError,
// *CircuitOpenError, *ExhaustedRetriesError, *PermanentError, or the
// caller's own context error.
func (r *Resilience) Call(
	ctx context.Context, dependency string, op Operation, opts ...CallOption,
) ([]byte, error) {
	start := time.Now()

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = observability.RequestIDFromContext(ctx)
	}
	if o.requestID != "" {
		ctx = observability.ContextWithRequestID(ctx, o.requestID)
	}

	var key string
	if o.useCache {
		var err error
		key, err = cache.DeriveKey(o.userID, o.operationType, o.content)
		if err != nil {
			recordCall(dependency, "validation_error", time.Since(start))
			return nil, validationError(err)
		}

		if value, origin, err := r.cache.Get(ctx, key); err == nil {
			recordCall(dependency, "hit_"+origin.String(), time.Since(start))
			r.logger.Debug("cache hit",
				observability.String("dependency", dependency),
				observability.String("origin", origin.String()))
			return value, nil
		}
	}

	breaker := r.breakers.Get(dependency)
	done, err := breaker.Allow(ctx)
	if err != nil {
		recordCall(dependency, "circuit_open", time.Since(start))
		return nil, &CircuitOpenError{Dependency: dependency}
	}

	dep := r.cfg.Dependency(dependency)
	policy := retry.PolicyFromConfig(&dep)

	value, attempts, err := r.executor.Execute(ctx, dependency, policy, retry.Operation(op))
	if err == nil {
		done(ctx, true)
		if o.useCache {
			if err := r.cache.Set(ctx, key, value, o.ttl); err != nil {
				r.logger.Warn("result not cached",
					observability.String("dependency", dependency),
					observability.Error(err))
			}
		}
		recordCall(dependency, "success", time.Since(start))
		return value, nil
	}

	// The caller went away: not a statement about the dependency's
	// health, so the breaker records a success and nothing is
	// dead-lettered.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		done(ctx, true)
		recordCall(dependency, "canceled", time.Since(start))
		return nil, err
	}

	kind := failure.Classify(err)

	if kind == failure.KindPermanent {
		// The dependency answered; the request itself is bad. That is
		// not dependency unhealth, so the breaker sees a success.
		done(ctx, true)
		r.capture(ctx, dependency, o, kind, attempts, start, err)
		recordCall(dependency, "permanent", time.Since(start))
		return nil, &PermanentError{Dependency: dependency, Err: err}
	}

	done(ctx, false)
	r.capture(ctx, dependency, o, kind, attempts, start, err)
	recordCall(dependency, "exhausted", time.Since(start))
	return nil, &ExhaustedRetriesError{
		Dependency: dependency,
		Attempts:   attempts,
		Kind:       kind,
		Err:        err,
	}
}

// capture writes the single dead-letter record for an abandoned request.
func (r *Resilience) capture(
	ctx context.Context, dependency string, o callOptions,
	kind failure.Kind, attempts int, start time.Time, err error,
) {
	record := deadletter.Record{
		RequestID:     o.requestID,
		Dependency:    dependency,
		OperationType: o.operationType,
		Payload:       o.content,
		FailureKind:   kind.String(),
		Attempts:      attempts,
		LastError:     err.Error(),
		FirstFailedAt: start,
		LastFailedAt:  time.Now(),
	}

	// Capture must survive the caller's context already being done.
	captureCtx := ctx
	if ctx.Err() != nil {
		captureCtx = context.Background()
	}
	_ = r.router.Capture(captureCtx, record)
}

// Ping verifies connectivity to the shared Redis store. A failure means the
// layer is running on local state only, not that it is down.
func (r *Resilience) Ping(ctx context.Context) error {
	return r.redisClient.Ping(ctx).Err()
}

// States reports the circuit state of every dependency seen so far.
func (r *Resilience) States(ctx context.Context) map[string]circuitbreaker.State {
	return r.breakers.States(ctx)
}

// DeadLetters lists captured dead-letter records.
func (r *Resilience) DeadLetters(ctx context.Context, filter deadletter.Filter) ([]deadletter.Record, error) {
	return r.router.List(ctx, filter)
}

// Invalidate removes a cached result.
func (r *Resilience) Invalidate(ctx context.Context, userID, operationType string, content []byte) error {
	key, err := cache.DeriveKey(userID, operationType, content)
	if err != nil {
		return validationError(err)
	}
	return r.cache.Invalidate(ctx, key)
}

func validationError(err error) *ValidationError {
	field := "input"
	reason := err.Error()
	if errors.Is(err, cache.ErrInvalidInput) {
		switch {
		case strings.Contains(reason, "userId"):
			field = "userId"
		case strings.Contains(reason, "operationType"):
			field = "operationType"
		}
	}
	return &ValidationError{Field: field, Reason: reason}
}
