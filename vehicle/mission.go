package vehicle

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Mission limits.
const (
	MaxTag          = 10
	MaxTagSpeed     = 200
	MissionMinSpeed = 50
	MissionMaxSpeed = 200
)

// Mission validation errors.
var (
	ErrTagRange   = errors.New("vehicle: mission tag out of range")
	ErrSpeedRange = errors.New("vehicle: tag speed limit out of range")
)

// MissionContext is what a mission callback may change on the vehicle.
type MissionContext interface {
	PauseLineFollowing()
	ResumeLineFollowing()
	// SetMaxSpeed clamps v to [MissionMinSpeed, MissionMaxSpeed] and returns the applied value.
	SetMaxSpeed(v int) int
}

// MissionFunc runs when a new tag is dispatched.
type MissionFunc func(ctx MissionContext, tag MissionTag)

// Missions maps tag ids to callbacks. Fallback handles ids with no entry.
type Missions struct {
	ByTag    map[uint32]MissionFunc
	Fallback MissionFunc
}

// Lookup returns the callback for id, or Fallback.
func (m Missions) Lookup(id uint32) MissionFunc {
	if fn, ok := m.ByTag[id]; ok {
		return fn
	}
	return m.Fallback
}

// ValidateMission rejects ids outside 1..MaxTag and speed limits above MaxTagSpeed.
func ValidateMission(tag MissionTag) error {
	if tag.ID < 1 || tag.ID > MaxTag {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrTagRange, tag.ID, MaxTag)
	}
	if tag.SpeedLimit > MaxTagSpeed {
		return fmt.Errorf("%w: %d (want 0..%d)", ErrSpeedRange, tag.SpeedLimit, MaxTagSpeed)
	}
	return nil
}

// DefaultMissions is the stock tag table: tag 1 starts the route, tags 2..9
// continue at the advertised limit and MaxTag is the destination, where line
// following pauses.
func DefaultMissions() Missions {
	cont := func(ctx MissionContext, tag MissionTag) {
		if tag.SpeedLimit > 0 {
			ctx.SetMaxSpeed(int(tag.SpeedLimit))
		}
	}
	m := Missions{ByTag: map[uint32]MissionFunc{}, Fallback: cont}
	m.ByTag[1] = func(ctx MissionContext, tag MissionTag) {
		ctx.ResumeLineFollowing()
		cont(ctx, tag)
	}
	for id := uint32(2); id < MaxTag; id++ {
		m.ByTag[id] = cont
	}
	m.ByTag[MaxTag] = func(ctx MissionContext, tag MissionTag) {
		ctx.PauseLineFollowing()
	}
	return m
}

// missionControl is the MissionContext handed to callbacks. Callbacks run on
// their own goroutine, so every field is guarded.
type missionControl struct {
	mu            sync.Mutex
	lineFollowing bool
	maxSpeed      int
}

func newMissionControl() *missionControl {
	return &missionControl{lineFollowing: true, maxSpeed: MissionMaxSpeed}
}

func (c *missionControl) PauseLineFollowing() {
	c.mu.Lock()
	c.lineFollowing = false
	c.mu.Unlock()
}

func (c *missionControl) ResumeLineFollowing() {
	c.mu.Lock()
	c.lineFollowing = true
	c.mu.Unlock()
}

func (c *missionControl) SetMaxSpeed(v int) int {
	v = max(MissionMinSpeed, min(v, MissionMaxSpeed))
	c.mu.Lock()
	c.maxSpeed = v
	c.mu.Unlock()
	return v
}

func (c *missionControl) snapshot() (lineFollowing bool, maxSpeed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineFollowing, c.maxSpeed
}

// runMission calls fn on its own goroutine and waits at most wait for it.
// It reports whether the callback finished in time.
func runMission(fn MissionFunc, ctx MissionContext, tag MissionTag, wait time.Duration) bool {
	if fn == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("vehicle: mission for tag %d panicked: %v", tag.ID, r)
			}
		}()
		fn(ctx, tag)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
