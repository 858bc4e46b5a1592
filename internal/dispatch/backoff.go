package dispatch

import (
	"time"
)

// backoffDelay returns the exponential backoff duration before retry attempt
// number attempt (0-based): base * 2^attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	if attempt < 0 {
		return base
	}
	// 2^30 seconds already exceeds any sane cap.
	if attempt > 30 {
		return max
	}
	delay := base * time.Duration(1<<attempt)
	if delay > max {
		return max
	}
	return delay
}
