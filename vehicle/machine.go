// Package vehicle is the on-vehicle supervisory loop: it gates motor commands
// on telemetry freshness, emergency and obstacle signals, station commands
// and tag-triggered missions.
package vehicle

import (
	"fmt"
	"log"
	"sync"
	"time"

	"linetrack/linefollow"
	"linetrack/protocol"
	"linetrack/telemetry"
)

// Config holds the machine tunables. Zero fields take the defaults below.
type Config struct {
	Control  linefollow.Params
	Speed    linefollow.SpeedPolicy
	Obstacle ObstacleGuard
	Missions Missions

	StaleAfter    time.Duration // a frame older than this is stale
	StaleLimit    int           // consecutive stale ticks before Abnormal
	LinkLossLimit int           // consecutive ticks without a live station before Abnormal
	AutoStartTag  uint32        // tag that starts the vehicle from Ready; 0 disables
	MissionWait   time.Duration // longest a tick waits for a mission callback
}

// DefaultConfig returns the stock tuning for a 50 ms control tick.
func DefaultConfig() Config {
	return Config{
		Control:       linefollow.Params{TurnSpeed: linefollow.DefaultTurnSpeed},
		Speed:         linefollow.DefaultSpeedPolicy(),
		Obstacle:      NewObstacleGuard(),
		Missions:      DefaultMissions(),
		StaleAfter:    500 * time.Millisecond,
		StaleLimit:    10,
		LinkLossLimit: 60,
		MissionWait:   50 * time.Millisecond,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Control.TurnSpeed <= 0 {
		c.Control = d.Control
	}
	if c.Speed == (linefollow.SpeedPolicy{}) {
		c.Speed = d.Speed
	}
	if c.Obstacle.StopBelow == 0 && c.Obstacle.RecoverAbove == 0 {
		c.Obstacle = d.Obstacle
	}
	if c.Missions.ByTag == nil && c.Missions.Fallback == nil {
		c.Missions = d.Missions
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.StaleLimit <= 0 {
		c.StaleLimit = d.StaleLimit
	}
	if c.LinkLossLimit <= 0 {
		c.LinkLossLimit = d.LinkLossLimit
	}
	if c.MissionWait <= 0 {
		c.MissionWait = d.MissionWait
	}
}

// Input is everything one control tick may look at.
type Input struct {
	Now         time.Time
	Frame       telemetry.Frame
	FrameAt     time.Time
	HaveFrame   bool
	LinkOpen    bool
	Command     string // latest station command, protocol.Command*
	CommandLive bool   // station alive counter is advancing
}

// Output is the decision for one tick.
type Output struct {
	State   State
	Command telemetry.Command
	Send    bool
	Mission *MissionTag
}

// Machine is the vehicle state machine. Step is called only by the control
// loop; the accessors may be called from any goroutine.
type Machine struct {
	mu      sync.Mutex
	cfg     Config
	emitter EventEmitter

	state      State
	guard      ObstacleGuard
	edge       TagEdge
	mission    *missionControl
	paused     bool
	staleTicks int
	lossTicks  int
	events     []func()
}

// NewMachine creates a machine in Initial. A nil emitter discards events.
func NewMachine(cfg Config, emitter EventEmitter) *Machine {
	cfg.fillDefaults()
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Machine{
		cfg:     cfg,
		emitter: emitter,
		state:   Initial,
		guard:   cfg.Obstacle,
		mission: newMissionControl(),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LineFollowing reports whether line following is enabled: not paused by the
// station and not paused by a mission.
func (m *Machine) LineFollowing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	lf, _ := m.mission.snapshot()
	return lf && !m.paused
}

// Step advances the machine by one control tick. Events are emitted after
// the lock is released so handlers may call back into the machine.
func (m *Machine) Step(in Input) Output {
	m.mu.Lock()
	out := m.step(in)
	events := m.events
	m.events = nil
	m.mu.Unlock()

	for _, emit := range events {
		emit()
	}
	return out
}

func (m *Machine) step(in Input) Output {
	fresh := in.HaveFrame && in.Now.Sub(in.FrameAt) <= m.cfg.StaleAfter
	out := Output{Send: true}

	switch m.state {
	case Initial:
		out.Send = false
		if in.LinkOpen && fresh {
			m.transition(Ready, "telemetry live")
		}

	case Ready:
		m.edge.Observe(in.Frame.MissionTag, false)
		switch {
		case !fresh || in.Frame.Emergency:
			// hold until telemetry is live and the button is released
		case in.Command == protocol.CommandEStop:
			m.transition(ServerStop, "station estop")
		case in.Command == protocol.CommandGo || in.Command == protocol.CommandResume:
			m.paused = false
			m.transition(Running, "station "+in.Command)
		case m.cfg.AutoStartTag != 0 && in.Frame.MissionTag == m.cfg.AutoStartTag:
			m.paused = false
			m.transition(Running, fmt.Sprintf("auto start on tag %d", m.cfg.AutoStartTag))
		}

	case Running:
		out = m.stepRunning(in, fresh)

	case ObstacleStop:
		m.edge.Observe(in.Frame.MissionTag, false)
		if !m.checkStale(fresh) {
			m.guard.Interrupt()
			break
		}
		switch {
		case in.Frame.Emergency:
			m.transition(PushButtonStop, "emergency button")
		case in.Command == protocol.CommandEStop:
			m.transition(ServerStop, "station estop")
		case !m.guard.Update(in.Now, in.Frame.ObstacleMm):
			m.transition(Running, fmt.Sprintf("obstacle cleared (%d mm)", in.Frame.ObstacleMm))
		}

	case PushButtonStop, ServerStop:
		m.transition(Abnormal, fmt.Sprintf("%s requires restart", m.state))

	case Abnormal:
	}

	out.State = m.state
	return out
}

// stepRunning evaluates one Running tick. Safety checks come first and force
// the zero command.
func (m *Machine) stepRunning(in Input, fresh bool) Output {
	out := Output{Send: true}
	f := in.Frame

	if !m.checkStale(fresh) {
		return out
	}

	switch {
	case f.Emergency:
		m.transition(PushButtonStop, "emergency button")
		return out
	case m.guard.Update(in.Now, f.ObstacleMm):
		m.transition(ObstacleStop, fmt.Sprintf("obstacle at %d mm", f.ObstacleMm))
		return out
	case in.Command == protocol.CommandEStop:
		m.transition(ServerStop, "station estop")
		return out
	}

	if in.CommandLive {
		m.lossTicks = 0
	} else {
		m.lossTicks++
		if m.lossTicks >= m.cfg.LinkLossLimit {
			m.transition(Abnormal, fmt.Sprintf("station silent for %d ticks", m.lossTicks))
			return out
		}
	}

	switch in.Command {
	case protocol.CommandPause:
		m.paused = true
	case protocol.CommandGo, protocol.CommandResume:
		m.paused = false
	}

	if m.edge.Observe(f.MissionTag, true) {
		tag := MissionTag{ID: f.MissionTag, SpeedLimit: f.TagSpeedLimit}
		if err := ValidateMission(tag); err != nil {
			log.Printf("vehicle: skip mission: %v", err)
		} else {
			if !runMission(m.cfg.Missions.Lookup(tag.ID), m.mission, tag, m.cfg.MissionWait) {
				log.Printf("vehicle: mission for tag %d still running after %v", tag.ID, m.cfg.MissionWait)
			}
			m.events = append(m.events, func() { m.emitter.EmitMissionDispatched(tag) })
			out.Mission = &tag
		}
	}

	lineFollowing, missionMax := m.mission.snapshot()
	if m.paused || !lineFollowing {
		return out
	}
	base, maxSpeed := m.cfg.Speed.EffectiveSpeed(f, missionMax)
	out.Command = m.cfg.Control.Control(f, base, maxSpeed)
	return out
}

// checkStale counts stale ticks and escalates after StaleLimit. It returns
// true when the frame may be used this tick.
func (m *Machine) checkStale(fresh bool) bool {
	if fresh {
		m.staleTicks = 0
		return true
	}
	m.staleTicks++
	if m.staleTicks >= m.cfg.StaleLimit {
		m.transition(Abnormal, fmt.Sprintf("telemetry stale for %d ticks", m.staleTicks))
	}
	return false
}

func (m *Machine) transition(to State, reason string) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	log.Printf("vehicle: %s -> %s (%s)", from, to, reason)
	m.events = append(m.events, func() { m.emitter.EmitStateChanged(from, to, reason) })
}
