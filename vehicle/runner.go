package vehicle

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"linetrack/protocol"
	"linetrack/syncchan"
	"linetrack/telemetry"
)

// Link is the motor controller side of the runner; *motorlink.Link satisfies it.
type Link interface {
	Latest() (telemetry.Frame, time.Time, bool)
	SendCommand(left, right int) error
	Connected() bool
}

// ReportSink delivers vehicle reports to the station.
type ReportSink interface {
	SendReport(ctx context.Context, r protocol.VehicleReport) error
}

// CommandSource fetches the station's current command.
type CommandSource interface {
	FetchCommand(ctx context.Context) (protocol.StationCommand, error)
}

// RunnerConfig sets the loop periods.
type RunnerConfig struct {
	VehicleID       string
	Tick            time.Duration
	ReportInterval  time.Duration
	CommandInterval time.Duration
	CallTimeout     time.Duration // bound on each report/command network call
	LivenessWindow  time.Duration // station alive counter must change within this
	JoinTimeout     time.Duration
	MinBattery      int // health reports ready only above this state of charge
}

// DefaultRunnerConfig returns the stock 50/33/100 ms loop periods.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		VehicleID:       "agv-1",
		Tick:            50 * time.Millisecond,
		ReportInterval:  33 * time.Millisecond,
		CommandInterval: 100 * time.Millisecond,
		CallTimeout:     500 * time.Millisecond,
		LivenessWindow:  time.Second,
		JoinTimeout:     time.Second,
		MinBattery:      10,
	}
}

// Runner owns the control, report and command-poll loops of one vehicle.
type Runner struct {
	cfg      RunnerConfig
	machine  *Machine
	link     Link
	reports  ReportSink
	commands CommandSource

	command  syncchan.Cell[protocol.StationCommand]
	liveness *syncchan.Liveness
	alive    atomic.Uint64

	// each touched only by its own loop
	lastCommandErr time.Time
	lastReportErr  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const errorLogInterval = 5 * time.Second

// NewRunner wires a machine to its link and sync transport. reports and
// commands may be nil when a broker delivers them instead; see ObserveCommand.
func NewRunner(cfg RunnerConfig, m *Machine, link Link, reports ReportSink, commands CommandSource) *Runner {
	d := DefaultRunnerConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = d.Tick
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = d.ReportInterval
	}
	if cfg.CommandInterval <= 0 {
		cfg.CommandInterval = d.CommandInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = d.CallTimeout
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = d.LivenessWindow
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = d.JoinTimeout
	}
	return &Runner{
		cfg:      cfg,
		machine:  m,
		link:     link,
		reports:  reports,
		commands: commands,
		liveness: syncchan.NewLiveness(cfg.LivenessWindow),
	}
}

// Machine returns the runner's state machine.
func (r *Runner) Machine() *Machine { return r.machine }

// Start launches the loops. They stop when ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.every(ctx, r.cfg.Tick, func(now time.Time) { r.Step(now) })

	if r.reports != nil {
		r.wg.Add(1)
		go r.every(ctx, r.cfg.ReportInterval, func(time.Time) { r.sendReport(ctx) })
	}
	if r.commands != nil {
		r.wg.Add(1)
		go r.every(ctx, r.cfg.CommandInterval, func(time.Time) { r.pollCommand(ctx) })
	}
	log.Printf("vehicle: %s started (tick %v)", r.cfg.VehicleID, r.cfg.Tick)
}

// Stop cancels the loops and waits up to JoinTimeout. The motors get one
// final zero command.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.cfg.JoinTimeout):
		log.Printf("vehicle: loops did not exit within %v", r.cfg.JoinTimeout)
	}
	r.link.SendCommand(0, 0)
}

func (r *Runner) every(ctx context.Context, period time.Duration, fn func(now time.Time)) {
	defer r.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

// Step runs one control tick against the latest frame and command.
func (r *Runner) Step(now time.Time) Output {
	f, at, ok := r.link.Latest()
	cmd, seq, _ := r.command.Load()
	name := protocol.CommandNone
	if seq > 0 {
		name = cmd.Command
	}

	out := r.machine.Step(Input{
		Now:         now,
		Frame:       f,
		FrameAt:     at,
		HaveFrame:   ok,
		LinkOpen:    r.link.Connected(),
		Command:     name,
		CommandLive: r.liveness.Live(now),
	})
	if out.Send {
		r.link.SendCommand(out.Command.Left, out.Command.Right)
	}
	return out
}

// ObserveCommand stores a station command; broker transports call it directly.
func (r *Runner) ObserveCommand(c protocol.StationCommand, now time.Time) {
	if !protocol.ValidCommand(c.Command) {
		log.Printf("vehicle: ignore unknown command %q", c.Command)
		return
	}
	r.command.Store(c, now)
	r.liveness.Observe(c.Alive, now)
}

func (r *Runner) pollCommand(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	c, err := r.commands.FetchCommand(ctx)
	if err != nil {
		if time.Since(r.lastCommandErr) >= errorLogInterval {
			log.Printf("vehicle: fetch command: %v", err)
			r.lastCommandErr = time.Now()
		}
		return
	}
	r.ObserveCommand(c, time.Now())
}

func (r *Runner) sendReport(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	rep := r.Report()
	if err := r.reports.SendReport(ctx, rep); err != nil && time.Since(r.lastReportErr) >= errorLogInterval {
		log.Printf("vehicle: send report: %v", err)
		r.lastReportErr = time.Now()
	}
}

// Report builds the next report. Each call advances the alive counter.
func (r *Runner) Report() protocol.VehicleReport { return r.snapshot(r.alive.Add(1)) }

// Status is Report without advancing the alive counter, for read-only
// observers such as the status endpoint.
func (r *Runner) Status() protocol.VehicleReport { return r.snapshot(r.alive.Load()) }

func (r *Runner) snapshot(alive uint64) protocol.VehicleReport {
	f, _, _ := r.link.Latest()
	state := r.machine.State()
	return protocol.VehicleReport{
		Timestamp:     time.Now().UTC(),
		VehicleID:     r.cfg.VehicleID,
		State:         string(state),
		Status:        reportStatus(state, f),
		LineFollowing: state == Running && r.machine.LineFollowing(),
		Tag:           protocol.TagInfo{ID: f.MissionTag, SpeedLimit: f.TagSpeedLimit},
		Telemetry: protocol.TelemetrySummary{
			SOC:            f.StateOfCharge,
			LinePosition:   f.LinePosition,
			ObstacleMm:     f.ObstacleMm,
			Emergency:      f.Emergency,
			Speed:          f.SpeedMmS,
			Odometer:       f.Odometer,
			WireAngle:      f.WireAngle,
			WireDistanceMm: f.WireDistanceMm,
			Mode:           int(f.Mode),
		},
		Alive: alive,
	}
}

// reportStatus flags the live emergency button even after the machine has
// moved on to Abnormal, so the station sees when it is released.
func reportStatus(s State, f telemetry.Frame) string {
	if f.Emergency {
		return protocol.StatusPushEStop
	}
	return s.Status()
}

// Health answers the station's health probe.
func (r *Runner) Health() protocol.HealthStatus {
	return r.healthAt(time.Now())
}

func (r *Runner) healthAt(now time.Time) protocol.HealthStatus {
	f, at, ok := r.link.Latest()
	hw := r.link.Connected()
	updating := ok && now.Sub(at) <= r.machine.cfg.StaleAfter
	return protocol.HealthStatus{
		HardwareConnected: hw,
		DataUpdating:      updating,
		EmergencyFlag:     f.Emergency,
		BatterySOC:        f.StateOfCharge,
		CommunicationOK:   r.liveness.Live(now),
		Ready:             hw && updating && f.StateOfCharge > r.cfg.MinBattery,
		LastUpdate:        at,
	}
}
