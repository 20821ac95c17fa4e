package util

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping backoff between failures. The
// last error is returned; there is no sleep after the final attempt.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
