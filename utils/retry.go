// utils/retry.go
package utils

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, doubling the delay between tries.
// Ledger reads go through this so a transient gateway hiccup does not surface
// as a session error.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
