// Package station is the remote supervisor. It owns the authoritative
// run/pause/estop decision and derives the command the vehicle polls for.
package station

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"linetrack/protocol"
)

// ErrRejected is wrapped by operator actions that are not valid in the current state.
var ErrRejected = errors.New("station: action rejected")

// Config holds the station tunables. Zero fields take the defaults.
type Config struct {
	HealthAttempts   int           // consecutive failed rounds before Abnormal
	HealthInterval   time.Duration // spacing of health rounds while Initial
	InitialTimeout   time.Duration // longest wait in Initial; 0 = attempts x interval
	ReportStaleAfter time.Duration // Running escalates when the last report is older
	MinBattery       int
	AutoStartTag     uint32 // mission tag that starts Ready; 0 disables
}

// DefaultConfig returns 3 rounds 10 s apart, 3 s report staleness and
// auto-start on tag 1. fillDefaults leaves AutoStartTag alone, so a zero
// Config has auto-start off.
func DefaultConfig() Config {
	return Config{
		HealthAttempts:   3,
		HealthInterval:   10 * time.Second,
		ReportStaleAfter: 3 * time.Second,
		MinBattery:       10,
		AutoStartTag:     1,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.HealthAttempts <= 0 {
		c.HealthAttempts = d.HealthAttempts
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.InitialTimeout <= 0 {
		c.InitialTimeout = time.Duration(c.HealthAttempts) * c.HealthInterval
	}
	if c.ReportStaleAfter <= 0 {
		c.ReportStaleAfter = d.ReportStaleAfter
	}
}

// Machine is the station state machine. All methods are safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	cfg     Config
	emitter EventEmitter

	state          State
	startedAt      time.Time
	failures       int
	health         HealthVerdict
	report         protocol.VehicleReport
	reportAt       time.Time
	haveReport     bool
	runningSince   time.Time
	pausedByServer bool
	acknowledged   bool
	lowBattery     bool
	alive          uint64
	clock          time.Time // time of the call in progress
	events         []func()
}

// NewMachine creates a machine in Initial; the Initial timeout runs from now.
func NewMachine(cfg Config, emitter EventEmitter, now time.Time) *Machine {
	cfg.fillDefaults()
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Machine{cfg: cfg, emitter: emitter, state: Initial, startedAt: now}
}

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.cfg }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the machine for display.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:          m.state,
		PausedByServer: m.pausedByServer,
		Acknowledged:   m.acknowledged,
		HealthFailures: m.failures,
		Health:         m.health,
		Report:         m.report,
		HaveReport:     m.haveReport,
		Command:        m.commandName(),
		Alive:          m.alive,
	}
}

// locked runs fn under the lock and emits queued events after releasing it.
func (m *Machine) locked(now time.Time, fn func()) {
	m.mu.Lock()
	m.clock = now
	fn()
	events := m.events
	m.events = nil
	m.mu.Unlock()
	for _, emit := range events {
		emit()
	}
}

// ObserveHealth records one health round. err is a failed probe.
func (m *Machine) ObserveHealth(now time.Time, h protocol.HealthStatus, err error) HealthVerdict {
	var v HealthVerdict
	m.locked(now, func() {
		if err != nil {
			v = HealthVerdict{Failed: []string{CheckCommunication}, Err: err.Error()}
		} else {
			v = Evaluate(h, m.reportFresh(now), m.cfg.MinBattery)
		}
		m.health = v
		m.events = append(m.events, func() { m.emitter.EmitHealthChecked(v) })

		switch m.state {
		case Initial:
			if v.OK {
				m.failures = 0
				m.transition(Ready, "health check passed")
				return
			}
			m.failures++
			log.Printf("station: health round %d/%d failed: %v %s", m.failures, m.cfg.HealthAttempts, v.Failed, v.Err)
			if m.failures >= m.cfg.HealthAttempts {
				m.transition(Abnormal, fmt.Sprintf("%d consecutive failed health checks", m.failures))
			}

		case Ready, Paused:
			if err == nil && h.EmergencyFlag {
				m.transition(PushEStop, "emergency flag in health check")
			}

		case Running:
			if err != nil {
				m.failures++
				if m.failures >= m.cfg.HealthAttempts {
					m.transition(Abnormal, fmt.Sprintf("health probe failed %d times: %v", m.failures, err))
				}
				return
			}
			m.failures = 0
			switch {
			case h.EmergencyFlag:
				m.transition(PushEStop, "emergency flag in health check")
			case v.LivenessFailed():
				m.transition(Abnormal, fmt.Sprintf("health check failed while running: %v", v.Failed))
			case v.Has(CheckBattery):
				m.warnLowBattery(h.BatterySOC)
			}
		}
	})
	return v
}

// ObserveReport records a vehicle report and applies its status.
func (m *Machine) ObserveReport(now time.Time, r protocol.VehicleReport) {
	m.locked(now, func() {
		m.report = r
		m.reportAt = now
		m.haveReport = true

		emergency := r.Telemetry.Emergency || r.Status == protocol.StatusPushEStop
		obstacle := r.Status == protocol.StatusObstacleEStop || r.State == protocol.VehicleObstacleStop

		switch m.state {
		case Ready:
			switch {
			case emergency:
				m.transition(PushEStop, "vehicle reports emergency")
			case m.cfg.AutoStartTag != 0 && r.Tag.ID == m.cfg.AutoStartTag:
				m.transition(Running, fmt.Sprintf("auto start on tag %d", r.Tag.ID))
			}

		case Running:
			switch {
			case emergency:
				m.transition(PushEStop, "vehicle reports emergency")
			case obstacle:
				m.transition(ObstacleEStop, fmt.Sprintf("vehicle reports obstacle at %d mm", r.Telemetry.ObstacleMm))
			case r.State == protocol.VehicleAbnormal:
				m.transition(Abnormal, "vehicle reports abnormal")
			}

		case PushEStop:
			if !emergency {
				m.transition(Paused, "emergency button released")
			}

		case ObstacleEStop:
			switch {
			case emergency:
				m.transition(PushEStop, "vehicle reports emergency")
			case !obstacle:
				m.transition(Running, "obstacle cleared")
			}

		case Paused:
			if emergency {
				m.transition(PushEStop, "vehicle reports emergency")
			}
		}
	})
}

// Tick applies the time-driven transitions.
func (m *Machine) Tick(now time.Time) {
	m.locked(now, func() {
		switch m.state {
		case Initial:
			if now.Sub(m.startedAt) >= m.cfg.InitialTimeout {
				m.transition(Abnormal, fmt.Sprintf("vehicle not ready within %v", m.cfg.InitialTimeout))
			}
		case Running:
			last := m.runningSince
			if m.haveReport && m.reportAt.After(last) {
				last = m.reportAt
			}
			if now.Sub(last) > m.cfg.ReportStaleAfter {
				m.transition(Abnormal, fmt.Sprintf("no vehicle report for %v", now.Sub(last).Round(time.Millisecond)))
			}
		case ServerEStop:
			m.pausedByServer = true
			m.transition(Paused, "server estop latched")
		}
	})
}

// Go starts or restarts the vehicle from Ready or Paused.
func (m *Machine) Go(now time.Time) error { return m.Apply(now, ActionGo) }

// Pause holds a running vehicle.
func (m *Machine) Pause(now time.Time) error { return m.Apply(now, ActionPause) }

// Resume continues from Paused.
func (m *Machine) Resume(now time.Time) error { return m.Apply(now, ActionResume) }

// EStop latches a server emergency stop.
func (m *Machine) EStop(now time.Time) error { return m.Apply(now, ActionEStop) }

// Stop ends the run and returns to Ready.
func (m *Machine) Stop(now time.Time) error { return m.Apply(now, ActionStop) }

// Acknowledge marks an Abnormal station as addressed. The state does not change.
func (m *Machine) Acknowledge(now time.Time) error { return m.Apply(now, ActionAcknowledge) }

// Apply performs an operator action by name.
func (m *Machine) Apply(now time.Time, action string) error {
	var err error
	m.locked(now, func() {
		err = m.apply(action)
	})
	return err
}

func (m *Machine) apply(action string) error {
	reject := func(why string) error {
		if why != "" {
			return fmt.Errorf("%w: %s in %s: %s", ErrRejected, action, m.state, why)
		}
		return fmt.Errorf("%w: %s in %s", ErrRejected, action, m.state)
	}

	switch action {
	case ActionGo, ActionResume:
		switch {
		case m.state == Ready && action == ActionGo:
		case m.state == Paused:
			if m.haveReport && m.report.State == protocol.VehicleAbnormal {
				return reject("vehicle is abnormal and must be restarted")
			}
		default:
			return reject("")
		}
		m.pausedByServer = false
		m.transition(Running, "operator "+action)

	case ActionPause:
		if m.state != Running && m.state != ObstacleEStop {
			return reject("")
		}
		m.transition(Paused, "operator pause")

	case ActionEStop:
		if m.state == Initial || m.state == Abnormal {
			return reject("")
		}
		m.transition(ServerEStop, "operator estop")

	case ActionStop:
		if m.state != Running && m.state != Paused && m.state != ObstacleEStop {
			return reject("")
		}
		m.pausedByServer = false
		m.transition(Ready, "operator stop")

	case ActionAcknowledge:
		switch m.state {
		case PushEStop, ServerEStop:
			// An acknowledged emergency stop needs inspection before the next run.
			m.transition(Abnormal, "operator acknowledged "+string(m.state))
		case Abnormal:
		default:
			return reject("")
		}
		if !m.acknowledged {
			m.acknowledged = true
			state := m.state
			log.Printf("station: abnormal state acknowledged")
			m.events = append(m.events, func() { m.emitter.EmitAcknowledged(state) })
		}

	default:
		return fmt.Errorf("%w: unknown action %q", ErrRejected, action)
	}
	return nil
}

// Command derives the command for the vehicle and advances the alive counter.
func (m *Machine) Command() protocol.StationCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive++
	return protocol.StationCommand{Command: m.commandName(), Alive: m.alive}
}

func (m *Machine) commandName() string {
	switch m.state {
	case Ready:
		return protocol.CommandPause
	case Running:
		return protocol.CommandGo
	case Paused:
		if m.pausedByServer {
			return protocol.CommandEStop
		}
		return protocol.CommandPause
	case PushEStop, ServerEStop, Abnormal:
		return protocol.CommandEStop
	}
	return protocol.CommandNone
}

// Warning returns the operator notice for the current state, if any.
func (m *Machine) Warning() (Warning, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Abnormal:
		msg := "station abnormal: restart required"
		if m.acknowledged {
			msg += " (acknowledged)"
		}
		return Warning{Type: "abnormal", Message: msg}, true
	case PushEStop:
		return Warning{Type: "push_estop", Message: "emergency button pressed on vehicle"}, true
	case ServerEStop:
		return Warning{Type: "server_estop", Message: "emergency stop issued by operator"}, true
	case ObstacleEStop:
		return Warning{Type: "obstacle", Message: fmt.Sprintf("obstacle at %d mm", m.report.Telemetry.ObstacleMm)}, true
	}
	if m.lowBattery && m.state == Running {
		return Warning{Type: "battery", Message: fmt.Sprintf("battery at %d%%", m.health.Status.BatterySOC)}, true
	}
	return Warning{}, false
}

func (m *Machine) warnLowBattery(soc int) {
	if m.lowBattery {
		return
	}
	m.lowBattery = true
	w := Warning{Type: "battery", Message: fmt.Sprintf("battery at %d%%", soc)}
	m.events = append(m.events, func() { m.emitter.EmitWarning(w) })
}

func (m *Machine) reportFresh(now time.Time) bool {
	return m.haveReport && now.Sub(m.reportAt) <= m.cfg.ReportStaleAfter
}

func (m *Machine) transition(to State, reason string) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if to != Paused {
		m.pausedByServer = false
	}
	if to == Running {
		m.runningSince = m.clock
		m.failures = 0
		m.lowBattery = false
	}
	log.Printf("station: %s -> %s (%s)", from, to, reason)
	m.events = append(m.events, func() { m.emitter.EmitStateChanged(from, to, reason) })

	switch to {
	case Abnormal, PushEStop, ServerEStop, ObstacleEStop:
		w := Warning{Type: string(to), Message: reason}
		m.events = append(m.events, func() { m.emitter.EmitWarning(w) })
	}
}
