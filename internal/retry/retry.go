// Package retry runs storefront calls under a bounded exponential backoff.
//
// The schedule is deterministic: attempt i (0-based) that fails is followed
// by a wait of BaseDelay * 2^i. There is no jitter.
//
// Failures carrying a 4xx status (other than 429) are terminal and returned
// at once. Everything else is retried until MaxAttempts is reached, and the
// last error is returned.
//
// Every attempt of one Do call sees the same CallID on its context, so a
// server can deduplicate retried requests.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"storefront-cart/internal/model"
)

// Defaults used when a Policy field is zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy configures a retry schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// OnRetry is called before each wait with the failed attempt's error and
	// the delay about to be slept. Optional.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

type callIDKey struct{}

// CallID returns the ID shared by all attempts of the enclosing Do call.
func CallID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDKey{}).(string)
	return id, ok
}

// Do invokes op until it succeeds, fails terminally, or attempts run out.
// The returned attempt count is how many times op was called.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, int, error) {
	p = p.withDefaults()
	ctx = context.WithValue(ctx, callIDKey{}, uuid.NewString())

	attempts := 0
	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err != nil && model.IsClientError(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.schedule()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempts, err, delay)
			}
		}),
	)
	// The attempt limit can be hit by a terminal failure; report the cause itself.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, attempts, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) (int, error) {
	_, attempts, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return attempts, err
}

// schedule builds a jitter-free doubling backoff starting at BaseDelay.
func (p Policy) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = math.MaxInt64
	b.Reset()
	return b
}
