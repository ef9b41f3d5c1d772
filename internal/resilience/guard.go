package resilience

import (
	"context"
	"errors"
	"time"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Timeout bounds each attempt. Default 15s.
	Timeout          time.Duration
	Retry            RetryConfig
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Guard wraps every call to one external capability (search, classifier,
// currency, hydration, reputation) with a per-attempt timeout, retries and a
// circuit breaker.
type Guard struct {
	name    string
	timeout time.Duration
	retry   RetryConfig
	breaker *CircuitBreaker
}

// NewGuard builds a Guard named after the capability it protects.
func NewGuard(name string, cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(name, "call")
	}
	return &Guard{
		name:    name,
		timeout: cfg.Timeout,
		retry:   retry,
		breaker: NewCircuitBreaker(name, cfg.FailureThreshold, cfg.ResetTimeout),
	}
}

// Name returns the capability name.
func (g *Guard) Name() string {
	return g.name
}

// Breaker exposes the guard's circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Call runs fn under g. An open circuit fails fast with ErrCircuitOpen and
// is not retried.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := g.retry
	should := retry.ShouldRetry
	if should == nil {
		should = IsTransient
	}
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && should(err)
	}
	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := g.breaker.allow(); err != nil {
			return zero, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		val, err := fn(attemptCtx)
		g.breaker.record(err)
		return val, err
	})
}
