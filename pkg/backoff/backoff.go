package backoff

import (
	"math"
	"time"
)

// Policy holds exponential backoff parameters for the reconnect protocol.
type Policy struct {
	MaxAttempts int           // Retry budget before terminal failure
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Ceiling for the computed delay
}

// DefaultPolicy returns the stock reconnect policy: five attempts, one
// second doubling up to thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay computes the wait before retry number attempt (0-indexed):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Exhausted reports whether the given attempt count has spent the budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
