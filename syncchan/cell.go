// Package syncchan carries vehicle reports and station commands between the
// two state machines. Each direction is a last-write-wins Cell; transports
// (HTTP polling or a message broker) only ever replace the cell contents.
package syncchan

import (
	"sync"
	"time"
)

// Cell holds the latest value of T. The lock is held only for the copy.
type Cell[T any] struct {
	mu  sync.Mutex
	v   T
	seq uint64
	at  time.Time
}

// Store replaces the value and returns its sequence number.
func (c *Cell[T]) Store(v T, now time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = v
	c.seq++
	c.at = now
	return c.seq
}

// Load returns the value, its sequence number (0 = never stored) and when it was stored.
func (c *Cell[T]) Load() (v T, seq uint64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v, c.seq, c.at
}

// Fresh reports whether a value was stored within maxAge of now.
func (c *Cell[T]) Fresh(now time.Time, maxAge time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq > 0 && now.Sub(c.at) <= maxAge
}
