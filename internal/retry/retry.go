// Package retry runs exchange calls under a backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"hookTrader/internal/ports"
)

// Policy describes when and how often a call is retried.
type Policy struct {
	Name string
	// MaxAttempts bounds the total number of calls. Zero means unbounded.
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
	Factor      float64
	// Retryable reports whether err warrants another attempt.
	Retryable func(error) bool
	// OnRetry is called before each wait. Optional.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// IsOverloaded is the default retry predicate.
func IsOverloaded(err error) bool {
	return errors.Is(err, ports.ErrExchangeOverloaded)
}

// Bounded is used for entry orders: a few attempts with doubling waits.
func Bounded(attempts int, first time.Duration) Policy {
	return Policy{
		Name:        "bounded",
		MaxAttempts: attempts,
		Min:         first,
		Max:         first << uint(max(attempts, 1)),
		Factor:      2,
		Retryable:   IsOverloaded,
	}
}

// Unbounded is used for protective orders: retry at a constant interval
// for as long as the exchange reports overload.
func Unbounded(interval time.Duration) Policy {
	return Policy{
		Name:      "unbounded",
		Min:       interval,
		Max:       interval,
		Factor:    1,
		Retryable: IsOverloaded,
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx is done. The last error is returned wrapped.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsOverloaded
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: p.Factor}

	for attempt := 1; ; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("%s retry gave up after %d attempts: %w", p.Name, attempt, err)
		}

		wait := b.Duration()
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s retry interrupted: %w: %w", p.Name, ports.ErrContextCanceled, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
