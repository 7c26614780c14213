// Package backoff computes retry delays for external collaborators
// (instrument service, broker publishes).
package backoff

import "time"

const (
	baseDelay = 500 * time.Millisecond
	maxDelay  = 30 * time.Second
)

// Delay returns the capped exponential backoff for a given attempt.
// attempt 0 → baseDelay, doubling up to maxDelay.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	// 2^30 already exceeds any sane cap; avoid shift overflow.
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
