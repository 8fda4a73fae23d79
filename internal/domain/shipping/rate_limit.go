package shipping

import "time"

// RateLimitWindow is the remote platform's quota state reported with a response.
// It is derived per call and never persisted.
type RateLimitWindow struct {
	Limit        int
	Remaining    int
	ResetSeconds int
	// Known is false when the response carried no rate-limit metadata
	Known bool
}

// Exhausted returns true if the window reports no remaining quota
func (w RateLimitWindow) Exhausted() bool {
	return w.Known && w.Remaining <= 0
}

// ResumeAfter returns the delay after which quota is expected to be restored
func (w RateLimitWindow) ResumeAfter(buffer time.Duration) time.Duration {
	reset := time.Duration(w.ResetSeconds) * time.Second
	if reset < 0 {
		reset = 0
	}
	return reset + buffer
}
