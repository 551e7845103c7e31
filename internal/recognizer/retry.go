package recognizer

import (
	"context"
	"math"
	"time"
)

// backoff returns the delay before reconnect attempt n (1-based): base
// doubled per attempt, capped at maxDelay
func backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := math.Pow(2, float64(attempt-1)) * float64(base)
	if d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
