// Package retry runs operations against the key directory and wrapped-key
// store with bounded exponential backoff. Only transient failures are retried.
package retry

import (
	"context"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures retry behavior for directory and store calls.
// The zero Policy never retries.
type Policy struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration
	// MaxElapsed bounds the total time spent retrying one operation.
	MaxElapsed time.Duration
	// MaxAttempts bounds the number of retries. Zero means no attempt limit.
	MaxAttempts uint64
}

// DefaultPolicy returns the policy used when configuration does not override it.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      30 * time.Second,
		MaxAttempts:     5,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	if p == (Policy{}) {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = p.MaxElapsed

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts)
	}
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, fails permanently, or the policy is exhausted.
// Errors not matching ErrDirectoryOrStoreFailure are returned immediately.
func (p Policy) Do(ctx context.Context, op func() error) error {
	return p.DoNotify(ctx, op, nil)
}

// DoNotify is Do with a callback invoked before each retry.
func (p Policy) DoNotify(ctx context.Context, op func() error, notify func(err error, next time.Duration)) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !kerrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(wrapped, p.backOff(ctx), notify)
}
