package algorithms

import (
	"context"
	"time"
)

// Forever makes Poll wait without a deadline.
const Forever time.Duration = -1

// Poll calls try until it reports done, the timeout elapses or ctx ends.
// A zero timeout calls try exactly once. It returns (false, nil) on
// timeout and ctx.Err() when the context ends first.
func Poll(ctx context.Context, strategy BackoffStrategy, timeout time.Duration, try func() (bool, error)) (bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	strategy.Reset()
	for attempt := 0; ; attempt++ {
		ok, err := try()
		if err != nil || ok {
			return ok, err
		}

		delay := strategy.NextDelay(attempt)
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			delay = min(delay, remaining)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}
