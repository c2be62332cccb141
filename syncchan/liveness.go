package syncchan

import (
	"sync"
	"time"
)

// Liveness watches a peer's alive counter. The peer is live while the
// counter has changed within the window; a repeated value is a stall even
// if messages keep arriving.
type Liveness struct {
	window time.Duration

	mu        sync.Mutex
	seen      bool
	last      uint64
	changedAt time.Time
}

// NewLiveness creates a monitor with the given stall window.
func NewLiveness(window time.Duration) *Liveness {
	return &Liveness{window: window}
}

// Observe records a counter value seen at now.
func (l *Liveness) Observe(counter uint64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.seen || counter != l.last {
		l.seen = true
		l.last = counter
		l.changedAt = now
	}
}

// Live reports whether the counter advanced within the window.
func (l *Liveness) Live(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen && now.Sub(l.changedAt) <= l.window
}

// Since returns how long ago the counter last changed, or -1 if never seen.
func (l *Liveness) Since(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.seen {
		return -1
	}
	return now.Sub(l.changedAt)
}
