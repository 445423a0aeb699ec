// Package optimistic confirms locally applied mutations against a remote
// service in the background.
//
// Callers apply a mutation to local state first, then Submit a Command whose
// Confirm performs the remote call. Confirmations for the same key run one at
// a time in submission order; different keys run concurrently. A terminal
// failure invokes the command's Rollback, which must undo only that
// command's effect on local state.
package optimistic

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storefront-cart/internal/retry"
)

// Command is the remote half of an optimistic mutation.
type Command struct {
	// Op labels the mutation in logs.
	Op string

	// Confirm performs the remote call. It is retried under the runner's policy.
	Confirm func(ctx context.Context) error

	// OnSuccess runs after Confirm succeeds. Optional.
	OnSuccess func()

	// Rollback runs after Confirm fails terminally, with the last error and
	// the number of attempts made. Optional.
	Rollback func(err error, attempts int)
}

// Runner serializes confirmations per key.
type Runner[K comparable] struct {
	policy retry.Policy
	logger *slog.Logger

	mu    sync.Mutex
	tails map[K]chan struct{} // completion signal of the newest ticket per key

	wg       sync.WaitGroup
	inflight atomic.Int64
}

// New creates a runner that retries confirmations under policy.
func New[K comparable](policy retry.Policy, logger *slog.Logger) *Runner[K] {
	return &Runner[K]{
		policy: policy,
		logger: logger,
		tails:  make(map[K]chan struct{}),
	}
}

// Submit queues cmd behind any confirmation already queued for key and returns
// immediately. The confirmation keeps running if ctx is canceled; ctx only
// contributes its values.
func (r *Runner[K]) Submit(ctx context.Context, key K, cmd Command) {
	done := make(chan struct{})

	r.mu.Lock()
	prev := r.tails[key]
	r.tails[key] = done
	r.mu.Unlock()

	r.wg.Add(1)
	r.inflight.Add(1)
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer r.wg.Done()
		defer r.inflight.Add(-1)
		defer r.release(key, done)

		if prev != nil {
			<-prev
		}
		r.confirm(ctx, key, cmd)
	}()
}

// Active reports how many submitted confirmations have not finished.
func (r *Runner[K]) Active() int {
	return int(r.inflight.Load())
}

// Wait blocks until every submitted confirmation has finished or ctx is done.
func (r *Runner[K]) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner[K]) confirm(ctx context.Context, key K, cmd Command) {
	policy := r.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warn("confirmation failed, retrying",
			slog.String("op", cmd.Op),
			slog.Any("key", key),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	start := time.Now()
	attempts, err := retry.Run(ctx, policy, cmd.Confirm)
	if err != nil {
		r.logger.Error("confirmation failed, rolling back",
			slog.String("op", cmd.Op),
			slog.Any("key", key),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		if cmd.Rollback != nil {
			cmd.Rollback(err, attempts)
		}
		return
	}

	r.logger.Debug("confirmation succeeded",
		slog.String("op", cmd.Op),
		slog.Any("key", key),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)),
	)
	if cmd.OnSuccess != nil {
		cmd.OnSuccess()
	}
}

// release signals the ticket done and forgets the key once no newer ticket
// has been queued behind it.
func (r *Runner[K]) release(key K, done chan struct{}) {
	close(done)

	r.mu.Lock()
	if r.tails[key] == done {
		delete(r.tails, key)
	}
	r.mu.Unlock()
}
