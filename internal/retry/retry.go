// Package retry provides classified exponential backoff retry for
// dependency calls. Whether a failed attempt is retried is decided by its
// failure kind, never by error message text, and throttled failures honor
// server-provided retry hints.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/failure"
	"github.com/askelement/relay/internal/observability"
)

// MaxJitterFraction is the maximum allowed jitter fraction.
const MaxJitterFraction = 1.0

// Operation is a single attempt against a dependency. The context carries
// the per-attempt timeout; implementations must respect it.
type Operation func(ctx context.Context) ([]byte, error)

// Policy is the resolved retry policy for one dependency.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// JitterFraction is the multiplicative jitter fraction (0.0 to 1.0).
	JitterFraction float64

	// CallTimeout bounds each individual attempt. Zero means no
	// per-attempt bound beyond the caller's context.
	CallTimeout time.Duration

	// RetryableKinds is the set of failure kinds that trigger a retry.
	RetryableKinds map[failure.Kind]bool
}

// DefaultRetryableKinds returns the default retryable set: transient,
// throttled, and timeout. Permanent failures are never retryable.
func DefaultRetryableKinds() map[failure.Kind]bool {
	return map[failure.Kind]bool{
		failure.KindTransient: true,
		failure.KindThrottled: true,
		failure.KindTimeout:   true,
	}
}

// PolicyFromConfig resolves the effective policy for one dependency.
// Zero or missing fields take the package defaults.
func PolicyFromConfig(dep *config.DependencyConfig) Policy {
	p := Policy{
		MaxAttempts:    config.DefaultMaxAttempts,
		BaseDelay:      config.DefaultBaseDelay,
		MaxDelay:       config.DefaultMaxDelay,
		JitterFraction: config.DefaultJitterFraction,
		CallTimeout:    config.DefaultCallTimeout,
		RetryableKinds: DefaultRetryableKinds(),
	}
	if dep == nil {
		return p
	}

	if dep.Retry.MaxAttempts > 0 {
		p.MaxAttempts = dep.Retry.MaxAttempts
	}
	if d := dep.Retry.BaseDelay.Duration(); d > 0 {
		p.BaseDelay = d
	}
	if d := dep.Retry.MaxDelay.Duration(); d > 0 {
		p.MaxDelay = d
	}
	if dep.Retry.JitterFraction > 0 {
		p.JitterFraction = math.Min(dep.Retry.JitterFraction, MaxJitterFraction)
	}
	if d := dep.CallTimeout.Duration(); d > 0 {
		p.CallTimeout = d
	}
	if len(dep.Retry.RetryableKinds) > 0 {
		kinds := make(map[failure.Kind]bool, len(dep.Retry.RetryableKinds))
		for _, name := range dep.Retry.RetryableKinds {
			if k, err := failure.ParseKind(name); err == nil {
				kinds[k] = true
			}
		}
		p.RetryableKinds = kinds
	}

	return p
}

// Retryable reports whether a failure of the given kind should be retried
// under this policy.
func (p Policy) Retryable(kind failure.Kind) bool {
	if kind == failure.KindPermanent {
		return false
	}
	return p.RetryableKinds[kind]
}

// Backoff returns the pre-jitter delay before retry number n (1-based):
// BaseDelay doubled per retry, capped at MaxDelay. Deterministic and
// monotonically non-decreasing in n.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(n-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// jitter spreads a delay multiplicatively within [d*(1-f), d].
func (p Policy) jitter(d time.Duration) time.Duration {
	f := p.JitterFraction
	if f <= 0 || d <= 0 {
		return d
	}
	if f > MaxJitterFraction {
		f = MaxJitterFraction
	}
	//nolint:gosec // G404: retry jitter is not security-sensitive
	return time.Duration(float64(d) * (1 - f + f*rand.Float64()))
}

// Executor runs dependency operations under a retry policy.
type Executor struct {
	logger observability.Logger
}

// NewExecutor creates a retry executor.
func NewExecutor(logger observability.Logger) *Executor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{logger: logger}
}

// Execute runs op until it succeeds, fails permanently, exhausts the
// attempt budget, or the caller's context ends. It returns the successful
// value, the number of attempts actually made, and the final attempt's
// error. The returned error is always the classified failure of the last
// attempt, so callers can inspect its kind.
func (e *Executor) Execute(
	ctx context.Context, dependency string, policy Policy, op Operation,
) ([]byte, int, error) {
	start := time.Now()

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if attempts == 0 {
				return nil, 0, err
			}
			return nil, attempts, err
		}

		attempts = attempt
		recordAttempt(dependency, attempt)

		value, err := e.attempt(ctx, policy, op)
		if err == nil {
			recordOutcome(dependency, "success", time.Since(start))
			if attempt > 1 {
				e.logger.Info("dependency call recovered",
					observability.String("dependency", dependency),
					observability.Int("attempts", attempt))
			}
			return value, attempt, nil
		}

		lastErr = err
		kind := failure.Classify(err)

		if !policy.Retryable(kind) {
			recordOutcome(dependency, "permanent", time.Since(start))
			e.logger.Warn("dependency call failed without retry",
				observability.String("dependency", dependency),
				observability.String("kind", kind.String()),
				observability.Error(err))
			return nil, attempt, err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := e.delayFor(policy, kind, attempt, err)
		recordBackoff(dependency, attempt, delay)

		e.logger.Debug("retrying dependency call",
			observability.String("dependency", dependency),
			observability.String("kind", kind.String()),
			observability.Int("attempt", attempt),
			observability.Duration("backoff", delay),
			observability.Error(err))

		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-time.After(delay):
		}
	}

	recordOutcome(dependency, "exhausted", time.Since(start))
	e.logger.Warn("dependency call exhausted retries",
		observability.String("dependency", dependency),
		observability.Int("attempts", attempts),
		observability.Error(lastErr))

	return nil, attempts, lastErr
}

// attempt runs one call under the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, policy Policy, op Operation) ([]byte, error) {
	if policy.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
		defer cancel()
	}
	return op(ctx)
}

// delayFor computes the jittered wait before the next attempt. Throttled
// failures never wait less than the server's retry hint.
func (e *Executor) delayFor(policy Policy, kind failure.Kind, attempt int, err error) time.Duration {
	delay := policy.jitter(policy.Backoff(attempt))

	if kind == failure.KindThrottled {
		if hint := failure.RetryHint(err); hint > delay {
			delay = hint
		}
	}

	return delay
}
