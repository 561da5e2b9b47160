// Package periodic runs a function on a fixed cadence until cancelled.
package periodic

import (
	"context"
	"time"
)

// Every calls fn once per period until ctx is done or fn returns an error.
// The first call happens one period after Every is entered. Cancellation is
// not an error; fn's error is returned as is.
func Every(ctx context.Context, period time.Duration, fn func(context.Context) error) error {
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// a tick may race with cancellation
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}
