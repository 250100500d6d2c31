package resilience

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy controls retry behavior.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Timeout bounds each attempt. Zero means the caller's context only.
	Timeout time.Duration
	// MaxAge shortens how long a cached result is reused. Zero means the cache TTL.
	MaxAge time.Duration
}

// DefaultPolicy retries three times, waiting 1s, 2s, 4s and never more than 8s.
var DefaultPolicy = Policy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	MaxDelay:     8 * time.Second,
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runner executes remote operations with retry, backoff and memoization.
type Runner struct {
	cache  *Cache
	policy Policy
	sleep  SleepFunc
	logger *slog.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) RunnerOption {
	return func(r *Runner) {
		r.policy = p
	}
}

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(s SleepFunc) RunnerOption {
	return func(r *Runner) {
		r.sleep = s
	}
}

// WithLogger sets the logger used for retry and cache messages.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a Runner backed by cache. A nil cache disables memoization.
func NewRunner(cache *Cache, opts ...RunnerOption) *Runner {
	r := &Runner{
		cache:  cache,
		policy: DefaultPolicy,
		sleep:  Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the runner's cache.
func (r *Runner) Cache() *Cache {
	return r.cache
}

// Policy returns the runner's default policy.
func (r *Runner) Policy() Policy {
	return r.policy
}

// Option overrides the policy for a single call.
type Option func(*Policy)

// WithMaxRetries overrides Policy.MaxRetries.
func WithMaxRetries(n int) Option {
	return func(p *Policy) { p.MaxRetries = n }
}

// WithInitialDelay overrides Policy.InitialDelay.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) { p.InitialDelay = d }
}

// WithMaxDelay overrides Policy.MaxDelay.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) { p.MaxDelay = d }
}

// WithTimeout bounds every attempt of this call.
func WithTimeout(d time.Duration) Option {
	return func(p *Policy) { p.Timeout = d }
}

// WithMaxAge reuses a cached result only while it is younger than d, for
// results that go stale before the cache TTL.
func WithMaxAge(d time.Duration) Option {
	return func(p *Policy) { p.MaxAge = d }
}

// Do runs op and returns its result.
//
// With a non-empty key, a result cached within the TTL is returned without
// calling op, and a successful result is cached. Failed attempts are retried
// up to MaxRetries times with doubling delays capped at MaxDelay. When retries
// run out the error from the last attempt is returned as is.
//
// Do is not a mutex: concurrent first calls with the same key all run op.
func Do[T any](ctx context.Context, r *Runner, key string, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	p := r.policy
	for _, opt := range opts {
		opt(&p)
	}

	if v, ok := load[T](r.cache, key, p.MaxAge); ok {
		r.logger.Debug("using cached result", slog.String("key", key))
		return v, nil
	}

	var zero T
	retriesRemaining := p.MaxRetries
	delays := p.backOff()
	for {
		result, err := attempt(ctx, p.Timeout, op)
		if err == nil {
			Store(r.cache, key, result)
			return result, nil
		}

		if retriesRemaining <= 0 {
			return zero, err
		}

		delay := delays.NextBackOff()
		r.logger.Debug("retrying operation",
			slog.String("key", key),
			slog.Int("remaining", retriesRemaining),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
		retriesRemaining--
	}
}

// backOff returns the delay schedule: InitialDelay doubling on every
// retry, without jitter, held at MaxDelay once reached.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	maxInterval := p.MaxDelay
	if maxInterval <= 0 {
		maxInterval = math.MaxInt64
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
	}
	b.Reset()
	return b
}

func attempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(ctx)
}
