package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/store"
)

func TestRegistryReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(config.Default(), store.NewMemory(), nil, observability.NopLogger())

	a := r.Get("inference")
	b := r.Get("inference")
	assert.Same(t, a, b)

	c := r.Get("transcription")
	assert.NotSame(t, a, c)

	assert.ElementsMatch(t, []string{"inference", "transcription"}, r.Names())
}

func TestRegistryUsesPerDependencyConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Dependencies = map[string]config.DependencyConfig{
		"quota": {
			Breaker: config.BreakerConfig{
				FailureThreshold: 2,
				CoolDown:         config.Duration(time.Minute),
			},
		},
	}

	r := NewRegistry(cfg, store.NewMemory(), nil, observability.NopLogger())
	b := r.Get("quota")
	ctx := context.Background()

	// Opens after the configured 2 failures, not the default 5.
	for i := 0; i < 2; i++ {
		done, err := b.Allow(ctx)
		require.NoError(t, err)
		done(ctx, false)
	}

	_, err := b.Allow(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRegistryStates(t *testing.T) {
	r := NewRegistry(config.Default(), store.NewMemory(), nil, observability.NopLogger())
	ctx := context.Background()

	r.Get("inference")
	b := r.Get("quota")

	for i := 0; i < config.DefaultFailureThreshold; i++ {
		done, err := b.Allow(ctx)
		require.NoError(t, err)
		done(ctx, false)
	}

	states := r.States(ctx)
	assert.Equal(t, StateClosed, states["inference"])
	assert.Equal(t, StateOpen, states["quota"])
}

func TestRegistryConcurrentGet(t *testing.T) {
	r := NewRegistry(config.Default(), store.NewMemory(), nil, observability.NopLogger())

	results := make(chan *Breaker, 16)
	for i := 0; i < 16; i++ {
		go func() { results <- r.Get("inference") }()
	}

	first := <-results
	for i := 1; i < 16; i++ {
		assert.Same(t, first, <-results)
	}
}
