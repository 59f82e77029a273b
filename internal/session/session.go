// Package session waits for an out-of-band condition, such as a browser
// sign-in or a server coming up, by polling a check on a fixed interval.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 5 * time.Minute
)

var (
	// ErrNotReady may be returned by a check to mean "try again".
	ErrNotReady = errors.New("session not ready")
	ErrTimeout  = errors.New("timed out waiting for session")
)

// CheckFunc reports whether the awaited condition holds.
type CheckFunc func(ctx context.Context) (bool, error)

// Poll runs check immediately and then every interval until it reports
// done, fails with an error other than ErrNotReady, or ctx ends. A ctx
// deadline is reported as ErrTimeout; cancellation as ctx.Err().
func Poll(ctx context.Context, interval time.Duration, check CheckFunc) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		switch {
		case err != nil && !errors.Is(err, ErrNotReady):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxDone(ctxErr)
			}
			return err
		case err == nil && done:
			log.Printf("[session] ready after %d checks", attempt)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctxDone(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Wait is Poll bounded by timeout.
func Wait(ctx context.Context, timeout, interval time.Duration, check CheckFunc) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Poll(ctx, interval, check)
}

func ctxDone(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
