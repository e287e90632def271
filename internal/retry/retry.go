// Package retry wraps an operation with bounded retries, a backoff schedule
// and an overall timeout budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Shape selects how the delay grows between attempts.
type Shape string

const (
	// Linear waits InitialDelay, 2*InitialDelay, 3*InitialDelay, ... up to MaxDelay.
	Linear Shape = "linear"

	// Exponential multiplies the delay by Multiplier after each failure, up to MaxDelay.
	Exponential Shape = "exponential"
)

// Policy configures one retry sequence.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Shape        Shape

	// Timeout bounds the whole sequence, including waits. Zero means no budget.
	Timeout time.Duration
}

// Default is the general-purpose policy: steadily increasing delays.
func Default() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Shape:        Linear,
		Timeout:      30 * time.Second,
	}
}

// ExponentialPolicy doubles the delay after each failure.
func ExponentialPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Shape:        Exponential,
		Timeout:      60 * time.Second,
	}
}

// Validate reports configuration mistakes.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries %d must be >= 0", p.MaxRetries))
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.Timeout < 0 {
		errs = append(errs, errors.New("delays and timeout must be >= 0"))
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		errs = append(errs, fmt.Errorf("max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay))
	}
	switch p.Shape {
	case Linear, "":
	case Exponential:
		if p.Multiplier < 1 {
			errs = append(errs, fmt.Errorf("exponential multiplier %v must be >= 1", p.Multiplier))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backoff shape %q", p.Shape))
	}
	return errors.Join(errs...)
}

// Notify is called before each wait with the attempt number that just failed.
type Notify func(attempt int, err error, next time.Duration)

// Option customises a single Do call.
type Option func(*options)

type options struct {
	notify Notify
}

// WithNotify registers a callback invoked after every failed attempt that will be retried.
func WithNotify(fn Notify) Option {
	return func(o *options) { o.notify = fn }
}

// Permanent marks err as not worth retrying. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// Do runs op until it succeeds, retries are exhausted, a permanent error is
// returned, or the policy timeout expires. On failure the last error op
// returned is always part of the result.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var (
		lastErr error
		attempt int
	)

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxRetries) + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			if o.notify != nil {
				o.notify(attempt, err, next)
			}
		}),
	}
	if p.Timeout > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(p.Timeout))
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil {
			lastErr = err
		}
		return v, err
	}, retryOpts...)
	if err == nil {
		return res, nil
	}

	// the budget ran out while waiting: report both the budget and the real cause
	if lastErr != nil && ctx.Err() != nil && !errors.Is(err, lastErr) {
		var zero T
		return zero, fmt.Errorf("retry budget exhausted after %d attempts: %w: %w", attempt, ctx.Err(), lastErr)
	}
	return res, err
}

func (p Policy) backOff() backoff.BackOff {
	if p.Shape == Exponential {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     p.InitialDelay,
			RandomizationFactor: 0,
			Multiplier:          p.Multiplier,
			MaxInterval:         p.MaxDelay,
		}
		if b.MaxInterval == 0 {
			b.MaxInterval = backoff.DefaultMaxInterval
		}
		b.Reset()
		return b
	}
	return &linearBackOff{initial: p.InitialDelay, max: p.MaxDelay}
}

// linearBackOff grows the delay by a fixed step each attempt.
type linearBackOff struct {
	initial time.Duration
	max     time.Duration
	n       int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := b.initial * time.Duration(b.n)
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }
