// Package engine runs the station: it owns the station state machine, drives
// its clock and health rounds, and fans its events out to the session log,
// the snapshot cache, the outbox and live subscribers.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"linetrack/config"
	"linetrack/protocol"
	"linetrack/snapshot"
	"linetrack/station"
	"linetrack/store"
	"linetrack/syncchan"
)

type LogFunc func(format string, args ...any)

// CommandSink publishes the derived command on a broker transport.
type CommandSink interface {
	SendCommand(ctx context.Context, c protocol.StationCommand) error
}

// Conn reports broker connectivity.
type Conn interface {
	IsConnected() bool
}

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	Cache     *snapshot.Cache
	Health    syncchan.HealthSource
	Commands  CommandSink // nil on the HTTP transport
	MsgClient Conn        // nil on the HTTP transport
	LogFunc   LogFunc
	Debug     bool
	Now       func() time.Time
}

type Engine struct {
	cfg       *config.Config
	db        *store.DB
	cache     *snapshot.Cache
	health    syncchan.HealthSource
	commands  CommandSink
	msgClient Conn
	machine   *station.Machine
	Events    *EventBus
	logFn     LogFunc
	debugFn   LogFunc
	now       func() time.Time

	lastTag      uint32
	lastTagMu    sync.Mutex
	msgConnected bool

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	debugFn := func(string, ...any) {}
	if c.Debug {
		debugFn = logFn
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	appCfg := c.AppConfig
	if appCfg == nil {
		appCfg = config.Defaults()
	}
	e := &Engine{
		cfg:       appCfg,
		db:        c.DB,
		cache:     c.Cache,
		health:    c.Health,
		commands:  c.Commands,
		msgClient: c.MsgClient,
		Events:    NewEventBus(),
		logFn:     logFn,
		debugFn:   debugFn,
		now:       now,
		stopChan:  make(chan struct{}),
	}
	sc := appCfg.Station
	e.machine = station.NewMachine(station.Config{
		HealthAttempts:   sc.HealthAttempts,
		HealthInterval:   sc.HealthInterval,
		InitialTimeout:   sc.InitialTimeout,
		ReportStaleAfter: sc.ReportStaleAfter,
		MinBattery:       sc.MinBattery,
		AutoStartTag:     sc.AutoStartTag,
	}, &stationEmitter{bus: e.Events}, now())
	e.wireEventHandlers()
	return e
}

// Start launches the cycle, health and (broker only) command loops.
func (e *Engine) Start() {
	if e.cache != nil {
		if err := e.cache.Clear(context.Background(), e.cfg.VehicleID); err != nil {
			e.logFn("engine: clear snapshot cache: %v", err)
		}
	}
	e.refreshSnapshot()

	e.wg.Add(2)
	go e.cycleLoop()
	go e.healthLoop()
	if e.commands != nil {
		e.wg.Add(1)
		go e.commandLoop()
	}
	if e.msgClient != nil {
		e.wg.Add(1)
		go e.connectionLoop()
	}
	e.logFn("engine: started (station %s)", e.machine.State())
}

// Stop halts the loops and waits up to one second for them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		e.logFn("engine: loops did not exit within 1s")
	}
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) Machine() *station.Machine { return e.machine }
func (e *Engine) DB() *store.DB             { return e.db }
func (e *Engine) Cache() *snapshot.Cache    { return e.cache }
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// MessagingConnected reports broker connectivity; false on the HTTP transport.
func (e *Engine) MessagingConnected() bool {
	return e.msgClient != nil && e.msgClient.IsConnected()
}

// HandleReport applies a vehicle report from any transport.
func (e *Engine) HandleReport(r protocol.VehicleReport) {
	e.machine.ObserveReport(e.now(), r)

	e.lastTagMu.Lock()
	newTag := r.Tag.ID != 0 && r.Tag.ID != e.lastTag
	e.lastTag = r.Tag.ID
	e.lastTagMu.Unlock()
	if newTag && e.db != nil {
		if err := e.db.LogTagEvent(r.VehicleID, r.Tag.ID, r.Tag.SpeedLimit, r.State); err != nil {
			e.logFn("engine: log tag event: %v", err)
		}
	}

	if err := e.cache.SetReport(context.Background(), r); err != nil {
		e.debugFn("engine: cache report: %v", err)
	}
	e.Events.Emit(Event{Type: EventVehicleReport, Payload: VehicleReportEvent{Report: r}})
}

// Command derives the command the vehicle should act on.
func (e *Engine) Command() protocol.StationCommand {
	return e.machine.Command()
}

// Apply performs an operator action.
func (e *Engine) Apply(action string) error {
	err := e.machine.Apply(e.now(), action)
	if err != nil {
		e.logFn("engine: operator %s: %v", action, err)
		return err
	}
	e.logFn("engine: operator %s accepted (station %s)", action, e.machine.State())
	return nil
}

// ProbeHealth runs one health round against the vehicle.
func (e *Engine) ProbeHealth(ctx context.Context) station.HealthVerdict {
	if e.health == nil {
		return e.machine.ObserveHealth(e.now(), protocol.HealthStatus{}, syncchan.ErrNoValue)
	}
	timeout := e.cfg.Sync.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	h, err := e.health.FetchHealth(ctx)
	return e.machine.ObserveHealth(e.now(), h, err)
}

// healthInterval is the spacing of health rounds in state s.
func (e *Engine) healthInterval(s station.State) time.Duration {
	if s == station.Initial {
		return e.machine.Config().HealthInterval
	}
	if d := e.cfg.Station.RunningHealthInterval; d > 0 {
		return d
	}
	return e.machine.Config().HealthInterval
}

func (e *Engine) healthLoop() {
	defer e.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.stopChan
		cancel()
	}()

	// The first round waits briefly so the vehicle can post a report.
	delay := min(time.Second, e.healthInterval(station.Initial))
	for {
		timer := time.NewTimer(delay)
		select {
		case <-e.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}
		if state := e.machine.State(); state != station.Abnormal {
			v := e.ProbeHealth(ctx)
			e.debugFn("engine: health round in %s: ok=%v failed=%v", state, v.OK, v.Failed)
		}
		delay = e.healthInterval(e.machine.State())
	}
}

func (e *Engine) cycleLoop() {
	defer e.wg.Done()
	interval := e.cfg.Station.CycleInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.machine.Tick(e.now())
		}
	}
}

func (e *Engine) commandLoop() {
	defer e.wg.Done()
	interval := e.cfg.Sync.CommandInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var failures int
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := e.commands.SendCommand(ctx, e.machine.Command())
			cancel()
			if err != nil {
				failures++
				if failures == 1 || failures%50 == 0 {
					e.logFn("engine: publish command (%d failures): %v", failures, err)
				}
			} else {
				failures = 0
			}
		}
	}
}

func (e *Engine) checkConnectionStatus() {
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else if e.msgConnected {
		e.msgConnected = false
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
	}
}

func (e *Engine) connectionLoop() {
	defer e.wg.Done()
	e.checkConnectionStatus()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}

func (e *Engine) refreshSnapshot() {
	if err := e.cache.SetStation(context.Background(), e.machine.Snapshot()); err != nil {
		e.debugFn("engine: cache station: %v", err)
	}
}
