package live

import "time"

// backoffDelay returns the reconnection delay for the given zero-based
// attempt count: base, 2*base, 4*base, ... No jitter, no cap beyond the
// attempt-count ceiling enforced by the caller.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base << uint(attempt)
}
