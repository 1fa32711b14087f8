// Package retry runs an operation with bounded retries and fixed or
// exponential backoff between attempts. It knows nothing about tasks.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff selects the delay strategy between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"       // Same delay before every retry
	BackoffExponential Backoff = "exponential" // delay * 2^(attempt-1)
)

// Options configures Execute.
type Options struct {
	MaxRetries int           // Retries after the first attempt (total attempts = MaxRetries+1)
	Delay      time.Duration // Base delay between attempts
	Backoff    Backoff       // Delay strategy (default exponential)
	MaxDelay   time.Duration // Cap for exponential delays (0 = uncapped)
}

// DefaultOptions returns 3 retries with a 1s exponential backoff.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Delay:      time.Second,
		Backoff:    BackoffExponential,
	}
}

// Result reports the outcome of Execute.
type Result[T any] struct {
	Success   bool
	Attempts  int   // Number of times the operation was invoked
	Value     T     // Value returned by the successful attempt
	LastError error // Last observed error when Success is false
}

// Permanent wraps err so that Execute stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Execute invokes op until it succeeds, the retries are exhausted, or ctx
// is done. The context passed to op is ctx itself.
func Execute[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) Result[T] {
	var res Result[T]
	if ctx == nil {
		ctx = context.Background()
	}

	operation := func() error {
		res.Attempts++
		value, err := op(ctx)
		if err != nil {
			return err
		}
		res.Value = value
		return nil
	}

	err := backoff.Retry(operation, policy(ctx, opts))
	if err != nil {
		res.LastError = err
		return res
	}

	res.Success = true
	return res
}

// Do is Execute for operations that produce no value.
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) Result[struct{}] {
	return Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
}

// DelayFor returns the wait before the given retry attempt (1-based). It
// walks the same schedule Execute uses.
func DelayFor(opts Options, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := schedule(opts)
	b.Reset()
	var delay time.Duration
	for range attempt {
		delay = b.NextBackOff()
	}
	return delay
}

// policy builds the backoff.BackOff for opts, bounded by MaxRetries and ctx.
func policy(ctx context.Context, opts Options) backoff.BackOff {
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(schedule(opts), uint64(maxRetries)), ctx)
}

// schedule is the unbounded delay sequence for opts.
func schedule(opts Options) backoff.BackOff {
	if opts.Backoff == BackoffFixed {
		return backoff.NewConstantBackOff(opts.Delay)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.Delay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0 // Deterministic schedule
	exp.MaxElapsedTime = 0      // Bounded by retry count only
	exp.MaxInterval = time.Duration(math.MaxInt64)
	if opts.MaxDelay > 0 {
		exp.MaxInterval = opts.MaxDelay
	}
	return exp
}
