package ratelimiter

import (
	"context"

	"github.com/tokengate/ratelimit/utils"
)

// sleepThreshold is the delay below which Blocking ignores ctx cancellation
// and sleeps directly, matching utils.SleepOrWait's short-sleep fast path —
// retry hints here are always positive (New replaces a non-positive
// RefillInterval with 1s), so they are above the threshold, and the call is
// routed through SleepOrWait so cancellation during the wait is always
// honored promptly.
const sleepThreshold = 0

// CheckBlocking retries on Denied: sleep for RetryHint and call Check
// again, until Admitted, a backend error, or ctx is cancelled.
// Cancellation interrupts the sleep promptly.
func (r *RateLimiter) CheckBlocking(ctx context.Context, key string, cost int64) (Decision, error) {
	for {
		decision, err := r.Check(ctx, key, cost)
		if err != nil {
			return Decision{}, err
		}
		if decision.Admitted {
			return decision, nil
		}

		if err := utils.SleepOrWait(ctx, decision.RetryHint, sleepThreshold); err != nil {
			return Decision{}, err
		}
	}
}
