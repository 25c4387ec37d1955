package guard

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry is a bounded exponential-backoff-with-jitter policy.
type Retry struct {
	MaxRetries      uint64        // additional tries after the first attempt
	InitialInterval time.Duration // default 100ms
	MaxInterval     time.Duration // default 2s
	PerTryTimeout   time.Duration // deadline applied to each individual try
}

// Permanent marks an error as non-retryable (e.g. a declined payment).
func Permanent(err error) error { return backoff.Permanent(err) }

func (r Retry) backoff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		bo.InitialInterval = r.InitialInterval
	} else {
		bo.InitialInterval = 100 * time.Millisecond
	}
	if r.MaxInterval > 0 {
		bo.MaxInterval = r.MaxInterval
	} else {
		bo.MaxInterval = 2 * time.Second
	}
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, r.MaxRetries), ctx)
}

// Do runs op until it succeeds, returns a permanent error, retries are
// exhausted, or ctx is done.
func (r Retry) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return backoff.Retry(func() error {
		tryCtx := ctx
		if r.PerTryTimeout > 0 {
			var cancel context.CancelFunc
			tryCtx, cancel = context.WithTimeout(ctx, r.PerTryTimeout)
			defer cancel()
		}
		return op(tryCtx)
	}, r.backoff(ctx))
}

// Guard combines a retry policy with a circuit breaker for one external
// capability. The breaker sees one outcome per Call, not per retry.
type Guard struct {
	Breaker *Breaker
	Retry   Retry
}

func (g *Guard) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := g.Breaker.Allow(); err != nil {
		return err
	}
	err := g.Retry.Do(ctx, op)
	if err != nil {
		g.Breaker.Failure()
		return err
	}
	g.Breaker.Success()
	return nil
}
