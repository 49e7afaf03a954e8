package jetbridge

import "time"

// RetryPolicy decides whether a failed connect attempt should be retried.
// Delays are fixed, not exponential: the session is meant to be supervised
// and restarted externally, so a predictable worst-case startup latency
// beats adaptive backoff here.
type RetryPolicy struct {
	Delay time.Duration
}

// Decide reports whether another attempt should be made given how many
// attempts remain, and how long to wait before it.
func (p RetryPolicy) Decide(attemptsRemaining int) (time.Duration, bool) {
	if attemptsRemaining <= 0 {
		return 0, false
	}
	return p.Delay, true
}
