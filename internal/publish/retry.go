package publish

import "time"

// RetryPolicy governs re-delivery of failed publish attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of delivery attempts, first try
	// included.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry; each subsequent
	// retry doubles it.
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns the standard publish retry policy: 3 attempts
// with 5s exponential backoff (5s, 10s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
	}
}

// NextDelay returns the backoff before the retry following the given number
// of completed attempts (attempts >= 1).
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// Exhausted reports whether the attempt budget is spent after the given
// number of completed attempts.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
