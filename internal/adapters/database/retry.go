package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry runs op up to tries times, pausing a fixed interval between attempts.
// Used only while connecting and provisioning; steady-state writes are never retried.
func Retry[T any](ctx context.Context, tries uint, pause time.Duration, op func() (T, error)) (T, error) {
	if tries == 0 {
		tries = 1
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(pause)),
		backoff.WithMaxTries(tries),
	)
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}
