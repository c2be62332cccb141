package vehicle

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestObstacleGuardHysteresis(t *testing.T) {
	g := NewObstacleGuard()
	steps := []struct {
		ms   int
		mm   uint32
		stop bool
	}{
		{0, 400, false},
		{100, 150, false}, // boundary is not below
		{200, 149, true},
		{300, 250, true}, // between thresholds holds the stop
		{400, 300, true}, // boundary is not above
		{500, 301, true},
		{2499, 301, true},
		{2500, 500, false},
	}
	for _, s := range steps {
		if got := g.Update(at(s.ms), s.mm); got != s.stop {
			t.Fatalf("t=%dms mm=%d: stopped = %v, want %v", s.ms, s.mm, got, s.stop)
		}
	}
}

func TestObstacleGuardDipResetsDwell(t *testing.T) {
	g := NewObstacleGuard()
	g.Update(at(0), 100)

	// clear from 100 ms, dip at 1.9 s into the dwell, clear again from 2.1 s
	for ms := 100; ms < 2000; ms += 100 {
		if !g.Update(at(ms), 400) {
			t.Fatalf("recovered early at %dms", ms)
		}
	}
	g.Update(at(2000), 250)
	for ms := 2100; ms < 4100; ms += 100 {
		if !g.Update(at(ms), 400) {
			t.Fatalf("recovered at %dms, dwell should have restarted at 2100ms", ms)
		}
	}
	if g.Update(at(4100), 400) {
		t.Error("still stopped 2 s after the last dip")
	}
}

func TestObstacleGuardInterruptRestartsDwell(t *testing.T) {
	g := NewObstacleGuard()
	g.Update(at(0), 100)
	g.Update(at(100), 400)
	g.Interrupt()
	if !g.Update(at(2500), 400) {
		t.Fatal("recovered on the first reading after a gap")
	}
	if !g.Stopped() {
		t.Error("Interrupt released the stop")
	}
	if g.Update(at(4500), 400) {
		t.Error("still stopped a full dwell after the gap")
	}
}

// Adding interruptions never makes recovery happen sooner.
func TestObstacleGuardRecoveryMonotonic(t *testing.T) {
	recoverAt := func(dips map[int]bool) int {
		g := NewObstacleGuard()
		g.Update(at(0), 50)
		for ms := 100; ms <= 10000; ms += 100 {
			mm := uint32(500)
			if dips[ms] {
				mm = 200
			}
			if !g.Update(at(ms), mm) {
				return ms
			}
		}
		return -1
	}

	base := recoverAt(nil)
	if base != 2100 {
		t.Fatalf("uninterrupted recovery at %dms, want 2100ms", base)
	}
	prev := base
	dips := map[int]bool{}
	for _, d := range []int{500, 1900, 2600, 4000} {
		dips[d] = true
		got := recoverAt(dips)
		if got < prev {
			t.Fatalf("dip at %dms moved recovery earlier: %d < %d", d, got, prev)
		}
		prev = got
	}
}
