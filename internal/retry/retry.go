// Package retry implements the generic bounded exponential-backoff runner
// shared by the manifest fetch, segment pipeline, and
// orchestrator startup steps.
package retry

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Options parameterizes a single Run call.
type Options struct {
	TotalRetry int           // max retry attempts after the first try
	RetryDelay time.Duration // base delay; schedule is RetryDelay * 2^(n-1)
	ResetDelay time.Duration // if last success is older than this, counter resets
	ShouldRetry func(err error) bool
	OnRetry     func(err error, attempt int)
	ErrorSelector func(err error) error
}

// DefaultOptions mirrors the orchestrator-startup budget:
// totalRetry=3, retryDelay=250ms, resetDelay=60s.
func DefaultOptions() Options {
	return Options{
		TotalRetry: 3,
		RetryDelay: 250 * time.Millisecond,
		ResetDelay: 60 * time.Second,
	}
}

// Runner executes Run calls sharing a reset-delay clock and a rate-limited
// onRetry logger, so repeated Run calls across a long-lived component (e.g.
// the segment pipeline across every segment) don't spam the structured
// logger during a retry storm.
type Runner struct {
	opts        Options
	lastSuccess time.Time
	attempt     int
	logLimiter  *rate.Limiter
}

// NewRunner returns a Runner. logRate bounds onRetry invocations per
// second; pass 0 to disable rate limiting.
func NewRunner(opts Options, logRate rate.Limit) *Runner {
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = func(error) bool { return true }
	}
	if opts.ErrorSelector == nil {
		opts.ErrorSelector = func(err error) error { return err }
	}
	var lim *rate.Limiter
	if logRate > 0 {
		lim = rate.NewLimiter(logRate, 1)
	}
	return &Runner{opts: opts, logLimiter: lim}
}

// Run executes fn, retrying on failure per the Runner's Options. It
// returns the first successful result, or the final (error-selected)
// failure once the retry budget is exhausted or ctx is cancelled.
func Run[T any](ctx context.Context, r *Runner, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !r.lastSuccess.IsZero() && time.Since(r.lastSuccess) > r.opts.ResetDelay {
		r.attempt = 0
	}

	var lastErr error
	for n := 0; n <= r.opts.TotalRetry; n++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		v, err := fn(ctx)
		if err == nil {
			r.lastSuccess = time.Now()
			r.attempt = 0
			return v, nil
		}

		lastErr = err
		if !r.opts.ShouldRetry(err) {
			return zero, r.opts.ErrorSelector(err)
		}
		if n == r.opts.TotalRetry {
			break
		}

		r.attempt++
		if r.opts.OnRetry != nil && (r.logLimiter == nil || r.logLimiter.Allow()) {
			r.opts.OnRetry(err, r.attempt)
		}

		delay := backoff(r.opts.RetryDelay, r.attempt)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, r.opts.ErrorSelector(lastErr)
}

// backoff computes retryDelay * 2^(n-1) with 20% jitter.
func backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base << (n - 1)
	jitter := float64(d) * 0.2 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}
