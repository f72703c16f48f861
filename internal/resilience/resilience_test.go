package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelement/relay/internal/circuitbreaker"
	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/deadletter"
	"github.com/askelement/relay/internal/failure"
	"github.com/askelement/relay/internal/observability"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Dependencies = map[string]config.DependencyConfig{
		"inference": {
			Retry: config.RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   config.Duration(time.Millisecond),
				MaxDelay:    config.Duration(5 * time.Millisecond),
			},
			Breaker: config.BreakerConfig{
				FailureThreshold: 5,
				CoolDown:         config.Duration(50 * time.Millisecond),
				SuccessThreshold: 2,
			},
			CallTimeout: config.Duration(time.Second),
		},
	}
	return cfg
}

func newTestResilience(t *testing.T, cfg *config.Config) (*Resilience, *miniredis.Miniredis) {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r, err := New(cfg,
		WithLogger(observability.NopLogger()),
		WithRedisClient(client),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return r, mr
}

func TestCallSuccess(t *testing.T) {
	r, _ := newTestResilience(t, nil)

	calls := 0
	value, err := r.Call(context.Background(), "inference",
		func(ctx context.Context) ([]byte, error) {
			calls++
			return []byte("answer"), nil
		})

	require.NoError(t, err)
	assert.Equal(t, []byte("answer"), value)
	assert.Equal(t, 1, calls)
}

func TestCallWarmCacheHit(t *testing.T) {
	r, _ := newTestResilience(t, nil)
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("transcript"), nil
	}
	opts := WithCache("user-1", "transcribe", []byte("audio-checksum"))

	// Cold call reaches the dependency.
	value, err := r.Call(ctx, "transcription", op, opts)
	require.NoError(t, err)
	assert.Equal(t, []byte("transcript"), value)
	assert.Equal(t, 1, calls)

	// Warm call is served from cache; the dependency is not consulted.
	value, err = r.Call(ctx, "transcription", op, opts)
	require.NoError(t, err)
	assert.Equal(t, []byte("transcript"), value)
	assert.Equal(t, 1, calls)
}

func TestCallCacheIsolatedByUser(t *testing.T) {
	r, _ := newTestResilience(t, nil)
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}

	_, err := r.Call(ctx, "inference", op, WithCache("user-1", "infer", []byte("q")))
	require.NoError(t, err)
	_, err = r.Call(ctx, "inference", op, WithCache("user-2", "infer", []byte("q")))
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestCallValidationError(t *testing.T) {
	r, _ := newTestResilience(t, nil)

	_, err := r.Call(context.Background(), "inference",
		func(ctx context.Context) ([]byte, error) {
			t.Fatal("operation must not run on invalid input")
			return nil, nil
		},
		WithCache("", "infer", []byte("q")))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "userId", verr.Field)
}

func TestCallThrottleThenSucceed(t *testing.T) {
	r, _ := newTestResilience(t, nil)

	calls := 0
	value, err := r.Call(context.Background(), "inference",
		func(ctx context.Context) ([]byte, error) {
			calls++
			if calls == 1 {
				return nil, failure.FromHTTPStatus("inference", 429,
					5*time.Millisecond, errors.New("rate limited"))
			}
			return []byte("ok"), nil
		})

	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), value)
	assert.Equal(t, 2, calls)

	// A recovered call leaves nothing in the dead-letter store.
	records, err := r.DeadLetters(context.Background(), deadletter.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCallExhaustedRetries(t *testing.T) {
	r, _ := newTestResilience(t, nil)

	calls := 0
	_, err := r.Call(context.Background(), "inference",
		func(ctx context.Context) ([]byte, error) {
			calls++
			return nil, failure.FromHTTPStatus("inference", 503, 0, errors.New("unavailable"))
		},
		WithCache("user-1", "infer", []byte("the question")),
		WithRequestID("req-1"))

	var exhausted *ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "inference", exhausted.Dependency)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, failure.KindTransient, exhausted.Kind)
	assert.Equal(t, 3, calls)

	// Exactly one dead-letter record, carrying the original payload.
	records, err := r.DeadLetters(context.Background(), deadletter.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, "inference", records[0].Dependency)
	assert.Equal(t, []byte("the question"), records[0].Payload)
	assert.Equal(t, "transient", records[0].FailureKind)
	assert.Equal(t, 3, records[0].Attempts)
}

func TestCallPermanentFailure(t *testing.T) {
	r, _ := newTestResilience(t, nil)
	ctx := context.Background()

	calls := 0
	_, err := r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) {
			calls++
			return nil, failure.FromHTTPStatus("inference", 400, 0, errors.New("malformed request"))
		})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, calls, "permanent failures are not retried")

	records, err := r.DeadLetters(ctx, deadletter.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "permanent", records[0].FailureKind)

	// A bad request says nothing about dependency health.
	assert.Equal(t, circuitbreaker.StateClosed, r.States(ctx)["inference"])
}

func TestCallCircuitOpensAndFastRejects(t *testing.T) {
	cfg := testConfig()
	dep := cfg.Dependencies["inference"]
	dep.Retry.MaxAttempts = 1
	cfg.Dependencies["inference"] = dep

	r, _ := newTestResilience(t, cfg)
	ctx := context.Background()

	// Five consecutive failed calls open the circuit.
	for i := 0; i < 5; i++ {
		_, err := r.Call(ctx, "inference",
			func(ctx context.Context) ([]byte, error) {
				return nil, failure.FromHTTPStatus("inference", 503, 0, errors.New("down"))
			})
		var exhausted *ExhaustedRetriesError
		require.ErrorAs(t, err, &exhausted)
	}

	assert.Equal(t, circuitbreaker.StateOpen, r.States(ctx)["inference"])

	// The sixth call is rejected without invoking the operation and
	// without a dead-letter record.
	invoked := false
	_, err := r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) {
			invoked = true
			return []byte("x"), nil
		})

	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "inference", open.Dependency)
	assert.False(t, invoked)

	records, err := r.DeadLetters(ctx, deadletter.Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestCallCircuitRecovers(t *testing.T) {
	cfg := testConfig()
	dep := cfg.Dependencies["inference"]
	dep.Retry.MaxAttempts = 1
	cfg.Dependencies["inference"] = dep

	r, _ := newTestResilience(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = r.Call(ctx, "inference",
			func(ctx context.Context) ([]byte, error) {
				return nil, failure.FromHTTPStatus("inference", 503, 0, errors.New("down"))
			})
	}
	require.Equal(t, circuitbreaker.StateOpen, r.States(ctx)["inference"])

	time.Sleep(60 * time.Millisecond)

	// Trial calls succeed and close the circuit again.
	for i := 0; i < 2; i++ {
		value, err := r.Call(ctx, "inference",
			func(ctx context.Context) ([]byte, error) {
				return []byte("recovered"), nil
			})
		require.NoError(t, err)
		assert.Equal(t, []byte("recovered"), value)
	}

	assert.Equal(t, circuitbreaker.StateClosed, r.States(ctx)["inference"])
}

func TestCallSharedStoreDownStillServes(t *testing.T) {
	r, mr := newTestResilience(t, nil)
	ctx := context.Background()

	opts := WithCache("user-1", "infer", []byte("q"))

	// Warm the cache, then lose Redis entirely.
	_, err := r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) { return []byte("warm"), nil }, opts)
	require.NoError(t, err)

	mr.Close()

	// Tier-1 still serves the warm entry.
	value, err := r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) {
			t.Fatal("cached call must not reach the dependency")
			return nil, nil
		}, opts)
	require.NoError(t, err)
	assert.Equal(t, []byte("warm"), value)

	// Uncached calls still flow; the breaker runs local-only.
	value, err = r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) { return []byte("fresh"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), value)
}

func TestCallCancelledContext(t *testing.T) {
	r, _ := newTestResilience(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("should not matter")
		})
	assert.ErrorIs(t, err, context.Canceled)

	// Caller cancellation is not an abandoned request.
	records, lerr := r.DeadLetters(context.Background(), deadletter.Filter{})
	require.NoError(t, lerr)
	assert.Empty(t, records)
}

func TestCallWithTTL(t *testing.T) {
	r, mr := newTestResilience(t, nil)
	ctx := context.Background()

	opts := []CallOption{
		WithCache("user-1", "infer", []byte("q")),
		WithTTL(20 * time.Millisecond),
	}

	_, err := r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) { return []byte("v"), nil }, opts...)
	require.NoError(t, err)

	// Age the entry out of both tiers: real time for tier1, the
	// miniredis clock for tier2.
	time.Sleep(40 * time.Millisecond)
	mr.FastForward(time.Minute)

	calls := 0
	_, err = r.Call(ctx, "inference",
		func(ctx context.Context) ([]byte, error) {
			calls++
			return []byte("v2"), nil
		}, opts...)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvalidate(t *testing.T) {
	r, _ := newTestResilience(t, nil)
	ctx := context.Background()

	opts := WithCache("user-1", "infer", []byte("q"))
	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	}

	_, err := r.Call(ctx, "inference", op, opts)
	require.NoError(t, err)

	require.NoError(t, r.Invalidate(ctx, "user-1", "infer", []byte("q")))

	_, err = r.Call(ctx, "inference", op, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	var verr *ValidationError
	assert.ErrorAs(t, r.Invalidate(ctx, "", "infer", nil), &verr)
}

func TestNewRequiresSharedStore(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.URL = ""

	_, err := New(cfg, WithLogger(observability.NopLogger()))
	assert.Error(t, err)
}

func TestNewDialsConfiguredRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Redis.URL = "redis://" + mr.Addr()

	r, err := New(cfg, WithLogger(observability.NopLogger()))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	cfg.Redis.URL = "redis://localhost:59999"
	_, err = New(cfg, WithLogger(observability.NopLogger()))
	assert.Error(t, err)
}
