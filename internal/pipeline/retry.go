package pipeline

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds re-attempts of a failed stage. MaxRetries counts
// attempts after the first; the delay before retry n (0-based) is
// BaseDelay*2^n capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy is 3 retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// BackOff returns a fresh delay schedule for one stage run, capped at
// MaxRetries retries. Delays carry no jitter.
func (p RetryPolicy) BackOff() backoff.BackOff {
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if p.BaseDelay <= 0 {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(retries))
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(maxDelay),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithMaxRetries(b, uint64(retries))
}
