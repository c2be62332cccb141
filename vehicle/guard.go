package vehicle

import "time"

// Obstacle thresholds.
const (
	DefaultStopBelow    = 150
	DefaultRecoverAbove = 300
	DefaultDwell        = 2 * time.Second
)

// ObstacleGuard applies stop/recover hysteresis to the obstacle distance.
// The vehicle stops when the distance drops below StopBelow and resumes only
// after it has stayed above RecoverAbove for Dwell without interruption.
type ObstacleGuard struct {
	StopBelow    uint32
	RecoverAbove uint32
	Dwell        time.Duration

	stopped    bool
	clearSince time.Time
}

// NewObstacleGuard returns a guard with the stock 150/300 mm, 2 s thresholds.
func NewObstacleGuard() ObstacleGuard {
	return ObstacleGuard{StopBelow: DefaultStopBelow, RecoverAbove: DefaultRecoverAbove, Dwell: DefaultDwell}
}

// Update feeds one distance reading and reports whether the vehicle must stay stopped.
func (g *ObstacleGuard) Update(now time.Time, mm uint32) bool {
	if !g.stopped {
		if mm < g.StopBelow {
			g.stopped = true
			g.clearSince = time.Time{}
		}
		return g.stopped
	}

	if mm <= g.RecoverAbove {
		g.clearSince = time.Time{}
		return true
	}
	if g.clearSince.IsZero() {
		g.clearSince = now
	}
	if now.Sub(g.clearSince) >= g.Dwell {
		g.stopped = false
		g.clearSince = time.Time{}
	}
	return g.stopped
}

// Interrupt restarts the recovery dwell. It is called when readings stop
// arriving, since the distance was not observed during the gap.
func (g *ObstacleGuard) Interrupt() { g.clearSince = time.Time{} }

// Stopped reports the current guard decision.
func (g *ObstacleGuard) Stopped() bool { return g.stopped }

// Reset clears the guard to the not-stopped state.
func (g *ObstacleGuard) Reset() {
	g.stopped = false
	g.clearSince = time.Time{}
}
