package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMaxRetriesExceeded wraps the last error once a RetryPolicy is exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryPolicy bounds an exponential backoff loop.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
}

// DefaultRetryPolicy returns 3 retries starting at 100ms, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	// Attempts are bounded by MaxRetries, not elapsed time.
	bo.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(bo, p.MaxRetries), ctx)
}

// Retry calls op until it succeeds, the policy is exhausted, ctx is done or
// op returns an error for which retryable reports false. A nil retryable
// retries every error. Errors wrapped with backoff.Permanent stop at once.
// Exhaustion is reported as ErrMaxRetriesExceeded joined with the last error.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, op func() error) error {
	stopped := false
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			stopped = true
			return err
		}
		if retryable != nil && !retryable(err) {
			stopped = true
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))

	if err == nil || stopped || ctx.Err() != nil {
		return err
	}
	return errors.Join(ErrMaxRetriesExceeded, err)
}
