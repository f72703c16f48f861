// Package circuitbreaker implements a per-dependency circuit breaker whose
// state is shared across instances through the coordination store. Each
// instance also runs a local gobreaker in front of the shared state, so a
// process that has already observed an open circuit rejects calls without a
// network round trip.
package circuitbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/notify"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/store"
	"github.com/askelement/relay/internal/timeout"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing the dependency with
	// a bounded number of trial calls.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// DoneFunc records the outcome of an allowed call.
type DoneFunc func(ctx context.Context, success bool)

// sharedState is the JSON document stored at the state key. CAS
// transitions compare the raw serialized form, so marshaling must stay
// deterministic.
type sharedState struct {
	Status   string `json:"status"`
	OpenedAt int64  `json:"opened_at"` // unix millis, zero unless open
}

func (s sharedState) encode() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Breaker is the circuit breaker for one dependency.
type Breaker struct {
	name   string
	cfg    resolvedConfig
	store  store.Store
	local  *gobreaker.TwoStepCircuitBreaker
	logger observability.Logger
	sink   notify.Sink

	stateKey  string
	failsKey  string
	succKey   string
	trialsKey string
}

type resolvedConfig struct {
	failureThreshold int64
	coolDown         time.Duration
	halfOpenMax      int64
	successThreshold int64
	stateTTL         time.Duration
}

func resolveConfig(cfg *config.BreakerConfig) resolvedConfig {
	r := resolvedConfig{
		failureThreshold: config.DefaultFailureThreshold,
		coolDown:         config.DefaultCoolDown,
		halfOpenMax:      config.DefaultHalfOpenMax,
		successThreshold: config.DefaultSuccessThreshold,
		stateTTL:         config.DefaultStateTTL,
	}
	if cfg == nil {
		return r
	}
	if cfg.FailureThreshold > 0 {
		r.failureThreshold = int64(cfg.FailureThreshold)
	}
	if d := cfg.CoolDown.Duration(); d > 0 {
		r.coolDown = d
	}
	if cfg.HalfOpenMax > 0 {
		r.halfOpenMax = int64(cfg.HalfOpenMax)
	}
	if cfg.SuccessThreshold > 0 {
		r.successThreshold = int64(cfg.SuccessThreshold)
	}
	if d := cfg.StateTTL.Duration(); d > 0 {
		r.stateTTL = d
	}
	return r
}

// New creates a circuit breaker for one dependency. st may be nil, in
// which case the breaker is instance-local only.
func New(
	name string, cfg *config.BreakerConfig, st store.Store,
	sink notify.Sink, logger observability.Logger,
) *Breaker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}

	rc := resolveConfig(cfg)

	b := &Breaker{
		name:      name,
		cfg:       rc,
		store:     st,
		logger:    logger,
		sink:      sink,
		stateKey:  fmt.Sprintf("cb:%s:state", name),
		failsKey:  fmt.Sprintf("cb:%s:fails", name),
		succKey:   fmt.Sprintf("cb:%s:succ", name),
		trialsKey: fmt.Sprintf("cb:%s:trials", name),
	}

	b.local = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(rc.successThreshold),
		Timeout:     rc.coolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int64(counts.ConsecutiveFailures) >= rc.failureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.logger.Debug("local circuit state changed",
				observability.String("dependency", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})

	return b
}

// Allow checks whether a call may proceed. On success it returns a done
// callback that must be invoked exactly once with the call's outcome. On
// rejection it returns ErrCircuitOpen without touching the dependency.
//
// The local gobreaker is consulted first, so an instance that already saw
// the circuit open rejects without a store round trip. When the shared
// store is unreachable the breaker degrades to local-only operation.
func (b *Breaker) Allow(ctx context.Context) (DoneFunc, error) {
	localDone, err := b.local.Allow()
	if err != nil {
		recordRejection(b.name, "local")
		return nil, ErrCircuitOpen
	}

	if b.store == nil {
		recordAllowed(b.name)
		return func(ctx context.Context, success bool) {
			localDone(success)
			recordOutcome(b.name, success)
		}, nil
	}

	allowed, shared := b.sharedAllow(ctx)
	if !allowed {
		// Feed the shared rejection into the local breaker so this
		// instance converges on the open state and stops asking.
		localDone(false)
		recordRejection(b.name, "shared")
		return nil, ErrCircuitOpen
	}

	recordAllowed(b.name)
	return func(ctx context.Context, success bool) {
		localDone(success)
		recordOutcome(b.name, success)
		if shared {
			b.recordShared(ctx, success)
		}
	}, nil
}

// sharedAllow consults the shared state machine. The second return value
// reports whether shared state participated; it is false when the store
// was unreachable and the breaker fell back to local-only.
func (b *Breaker) sharedAllow(ctx context.Context) (allowed, shared bool) {
	sctx, cancel := timeout.StoreContext(ctx)
	defer cancel()

	state, raw, err := b.readState(sctx)
	if err != nil {
		b.logger.Warn("breaker state unreadable, using local state only",
			observability.String("dependency", b.name),
			observability.Error(err))
		recordStoreFallback(b.name)
		return true, false
	}

	switch state.Status {
	case stateNameClosed:
		return true, true

	case stateNameOpen:
		openedAt := time.UnixMilli(state.OpenedAt)
		if time.Since(openedAt) < b.cfg.coolDown {
			return false, true
		}
		// Cool-down elapsed: move to half-open. Losing the CAS race
		// means another instance transitioned first; re-reading is not
		// needed, the trial budget below arbitrates either way.
		next := sharedState{Status: stateNameHalfOpen}
		if swapped, err := b.store.CompareAndSwap(
			sctx, b.stateKey, raw, next.encode(), b.cfg.stateTTL,
		); err != nil {
			b.logger.Warn("breaker half-open transition failed",
				observability.String("dependency", b.name),
				observability.Error(err))
			recordStoreFallback(b.name)
			return true, false
		} else if swapped {
			b.resetCounters(sctx)
			recordTransition(b.name, StateOpen, StateHalfOpen)
			b.logger.Info("circuit half-open, probing dependency",
				observability.String("dependency", b.name))
		}
		return b.claimTrial(sctx), true

	case stateNameHalfOpen:
		return b.claimTrial(sctx), true

	default:
		b.logger.Warn("breaker state corrupt, resetting to closed",
			observability.String("dependency", b.name),
			observability.String("state", state.Status))
		closed := sharedState{Status: stateNameClosed}
		_, _ = b.store.CompareAndSwap(sctx, b.stateKey, raw, closed.encode(), b.cfg.stateTTL)
		return true, true
	}
}

// claimTrial reserves one of the bounded half-open trial slots.
func (b *Breaker) claimTrial(ctx context.Context) bool {
	trials, err := b.store.Incr(ctx, b.trialsKey, b.cfg.stateTTL)
	if err != nil {
		b.logger.Warn("breaker trial counter unavailable",
			observability.String("dependency", b.name),
			observability.Error(err))
		return true
	}
	return trials <= b.cfg.halfOpenMax
}

// recordShared records a call outcome into the shared state machine.
func (b *Breaker) recordShared(ctx context.Context, success bool) {
	sctx, cancel := timeout.StoreContext(ctx)
	defer cancel()

	state, raw, err := b.readState(sctx)
	if err != nil {
		b.logger.Warn("breaker outcome not recorded, store unreachable",
			observability.String("dependency", b.name),
			observability.Error(err))
		recordStoreFallback(b.name)
		return
	}

	if success {
		b.recordSharedSuccess(sctx, state, raw)
	} else {
		b.recordSharedFailure(sctx, state, raw)
	}
}

func (b *Breaker) recordSharedSuccess(ctx context.Context, state sharedState, raw string) {
	switch state.Status {
	case stateNameClosed:
		// A success resets the consecutive-failure run.
		if err := b.store.Delete(ctx, b.failsKey); err != nil {
			b.logger.Warn("breaker failure counter reset failed",
				observability.String("dependency", b.name),
				observability.Error(err))
		}

	case stateNameHalfOpen:
		succ, err := b.store.Incr(ctx, b.succKey, b.cfg.stateTTL)
		if err != nil {
			b.logger.Warn("breaker success counter unavailable",
				observability.String("dependency", b.name),
				observability.Error(err))
			return
		}
		if succ >= b.cfg.successThreshold {
			b.transition(ctx, raw, StateHalfOpen, StateClosed)
		}
	}
}

func (b *Breaker) recordSharedFailure(ctx context.Context, state sharedState, raw string) {
	switch state.Status {
	case stateNameClosed:
		fails, err := b.store.Incr(ctx, b.failsKey, b.cfg.stateTTL)
		if err != nil {
			b.logger.Warn("breaker failure counter unavailable",
				observability.String("dependency", b.name),
				observability.Error(err))
			return
		}
		if fails >= b.cfg.failureThreshold {
			b.transition(ctx, raw, StateClosed, StateOpen)
		}

	case stateNameHalfOpen:
		// Any trial failure reopens the circuit.
		b.transition(ctx, raw, StateHalfOpen, StateOpen)
	}
}

// transition CASes the shared state from the serialized form the caller
// read to the target state. Losing the race is fine: some other instance
// performed an equivalent transition.
func (b *Breaker) transition(ctx context.Context, raw string, from, to State) {
	next := sharedState{Status: stateName(to)}
	if to == StateOpen {
		next.OpenedAt = time.Now().UnixMilli()
	}

	swapped, err := b.store.CompareAndSwap(ctx, b.stateKey, raw, next.encode(), b.cfg.stateTTL)
	if err != nil {
		b.logger.Warn("breaker state transition failed",
			observability.String("dependency", b.name),
			observability.Error(err))
		recordStoreFallback(b.name)
		return
	}
	if !swapped {
		return
	}

	b.resetCounters(ctx)
	recordTransition(b.name, from, to)

	switch to {
	case StateOpen:
		b.logger.Warn("circuit opened",
			observability.String("dependency", b.name))
		b.sink.Notify(ctx, notify.Event{
			Type:       notify.EventCircuitOpened,
			Dependency: b.name,
			Timestamp:  time.Now(),
			Detail:     map[string]string{"cool_down": b.cfg.coolDown.String()},
		})
	case StateClosed:
		b.logger.Info("circuit closed",
			observability.String("dependency", b.name))
		b.sink.Notify(ctx, notify.Event{
			Type:       notify.EventCircuitClosed,
			Dependency: b.name,
			Timestamp:  time.Now(),
		})
	}
}

func (b *Breaker) resetCounters(ctx context.Context) {
	for _, key := range []string{b.failsKey, b.succKey, b.trialsKey} {
		if err := b.store.Delete(ctx, key); err != nil {
			b.logger.Warn("breaker counter reset failed",
				observability.String("dependency", b.name),
				observability.String("key", key),
				observability.Error(err))
		}
	}
}

// readState loads the shared state, lazily initializing it to closed. The
// raw serialized form is returned for use as the CAS comparand.
func (b *Breaker) readState(ctx context.Context) (sharedState, string, error) {
	raw, err := b.store.Get(ctx, b.stateKey)
	if errors.Is(err, store.ErrNotFound) {
		closed := sharedState{Status: stateNameClosed}
		encoded := closed.encode()
		if _, err := b.store.SetNX(ctx, b.stateKey, encoded, b.cfg.stateTTL); err != nil {
			return sharedState{}, "", err
		}
		// Re-read: another instance may have initialized or even
		// transitioned the state between our Get and SetNX.
		raw, err = b.store.Get(ctx, b.stateKey)
		if err != nil {
			return sharedState{}, "", err
		}
	} else if err != nil {
		return sharedState{}, "", err
	}

	var state sharedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return sharedState{Status: "corrupt"}, raw, nil
	}
	return state, raw, nil
}

// State returns the current circuit state, preferring the shared view.
func (b *Breaker) State(ctx context.Context) State {
	if b.store != nil {
		sctx, cancel := timeout.StoreContext(ctx)
		defer cancel()
		if state, _, err := b.readState(sctx); err == nil {
			switch state.Status {
			case stateNameOpen:
				return StateOpen
			case stateNameHalfOpen:
				return StateHalfOpen
			case stateNameClosed:
				return StateClosed
			}
		}
	}

	switch b.local.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

const (
	stateNameClosed   = "closed"
	stateNameOpen     = "open"
	stateNameHalfOpen = "half_open"
)

func stateName(s State) string {
	switch s {
	case StateOpen:
		return stateNameOpen
	case StateHalfOpen:
		return stateNameHalfOpen
	default:
		return stateNameClosed
	}
}
