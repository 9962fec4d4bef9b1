package resilience

import (
	"context"
	"fmt"
	"time"
)

// Poller retries an operation a bounded number of times with a fixed
// interval between attempts. It backs the connect-handshake liveness
// check, which deliberately keeps its own retry policy separate from the
// circuit breaker guarding REST calls.
type Poller struct {
	Attempts int
	Interval time.Duration
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx
// is cancelled. The last attempt's error is returned.
func (p Poller) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := range attempts {
		if i > 0 {
			select {
			case <-time.After(p.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("poll failed after %d attempts: %w", attempts, lastErr)
}
