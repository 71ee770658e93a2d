package errors

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds adapter-level retries.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryConfig returns the policy used by the channel adapters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
		MaxRetries:      3,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	b.MaxElapsedTime = c.MaxElapsedTime
	var policy backoff.BackOff = b
	if c.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, c.MaxRetries)
	}
	return backoff.WithContext(policy, ctx)
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// policy is exhausted.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, config.backOff(ctx))
}

// RetryWithResult is Retry for functions returning a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, config, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}
