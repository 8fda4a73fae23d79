package shipsync

import (
	"time"

	"github.com/shipsync/backend/internal/domain/shipping"
)

// Gate tracks the remote quota for one batch. It never blocks a call; it only
// records what the last response reported and raises a stop flag once the quota
// is exhausted. A Gate is owned by a single batch and is not safe for concurrent use.
type Gate struct {
	buffer  time.Duration
	window  shipping.RateLimitWindow
	stopped bool
	calls   int
}

// NewGate creates a gate whose resume guidance adds buffer to the reported reset
func NewGate(buffer time.Duration) *Gate {
	return &Gate{buffer: buffer}
}

// Observe records the window reported by a remote call, successful or not
func (g *Gate) Observe(w shipping.RateLimitWindow) {
	g.calls++
	if !w.Known {
		return
	}
	g.window = w
	if w.Exhausted() {
		g.stopped = true
	}
}

// Stopped returns true once any observed window was exhausted
func (g *Gate) Stopped() bool {
	return g.stopped
}

// Stop raises the stop flag for a refusal that carried no usable window
func (g *Gate) Stop() {
	g.stopped = true
}

// Window returns the last known window
func (g *Gate) Window() shipping.RateLimitWindow {
	return g.window
}

// Calls returns the number of remote calls observed
func (g *Gate) Calls() int {
	return g.calls
}

// ResumeAfter is logged guidance for when quota should be back; the next poll
// tick is what actually resumes consumption
func (g *Gate) ResumeAfter() time.Duration {
	return g.window.ResumeAfter(g.buffer)
}
