package circuitbreaker

import (
	"context"
	"sync"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/notify"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/store"
)

// Registry manages one breaker per dependency, resolving each breaker's
// thresholds from the per-dependency configuration.
type Registry struct {
	breakers sync.Map
	cfg      *config.Config
	store    store.Store
	sink     notify.Sink
	logger   observability.Logger
}

// NewRegistry creates a breaker registry.
func NewRegistry(
	cfg *config.Config, st store.Store, sink notify.Sink, logger observability.Logger,
) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		cfg:    cfg,
		store:  st,
		sink:   sink,
		logger: logger,
	}
}

// Get returns the breaker for a dependency, creating it on first use.
func (r *Registry) Get(dependency string) *Breaker {
	if value, ok := r.breakers.Load(dependency); ok {
		return value.(*Breaker)
	}

	var bc *config.BreakerConfig
	if r.cfg != nil {
		dep := r.cfg.Dependency(dependency)
		bc = &dep.Breaker
	}

	b := New(dependency, bc, r.store, r.sink, r.logger)

	actual, loaded := r.breakers.LoadOrStore(dependency, b)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("dependency", dependency))

	return b
}

// States returns the current state of every known breaker.
func (r *Registry) States(ctx context.Context) map[string]State {
	states := make(map[string]State)
	r.breakers.Range(func(key, value interface{}) bool {
		states[key.(string)] = value.(*Breaker).State(ctx)
		return true
	})
	return states
}

// Names returns the dependencies with an instantiated breaker.
func (r *Registry) Names() []string {
	var names []string
	r.breakers.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}
