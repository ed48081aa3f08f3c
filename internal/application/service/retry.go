package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"xledger/internal/domain/model"
)

// RetryPolicy is exponential backoff with full jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 15 * time.Second}
}

// Backoff returns the wait before retry number n (0-based): a random
// duration in [d/2, d] where d = base*2^n capped at MaxDelay.
func (p RetryPolicy) Backoff(n int, rnd func(int64) int64) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rnd(half+1))
}

// sleeper waits for d or until ctx is done.
type sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retrier runs an operation under a RetryPolicy. Only errors matching
// model.ErrTransient are retried; a RetryAfterError overrides the computed
// delay when it asks for longer.
type retrier struct {
	policy  RetryPolicy
	sleep   sleeper
	rnd     func(int64) int64
	onRetry func(attempt int, delay time.Duration, err error)
}

func newRetrier(p RetryPolicy) *retrier {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return &retrier{policy: p, sleep: sleepCtx, rnd: rand.Int63n}
}

func (r *retrier) do(ctx context.Context, op func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return attempt, err
		}
		err = op(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if !model.IsTransient(err) || attempt == r.policy.MaxAttempts-1 {
			return attempt + 1, err
		}
		delay := r.policy.Backoff(attempt, r.rnd)
		var ra *model.RetryAfterError
		if errors.As(err, &ra) && ra.After > delay {
			delay = ra.After
		}
		if r.onRetry != nil {
			r.onRetry(attempt+1, delay, err)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return attempt + 1, serr
		}
	}
	return r.policy.MaxAttempts, err
}
