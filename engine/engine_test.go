package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"linetrack/config"
	"linetrack/protocol"
	"linetrack/station"
	"linetrack/store"
)

type fakeHealth struct {
	mu  sync.Mutex
	h   protocol.HealthStatus
	err error
}

func (f *fakeHealth) FetchHealth(ctx context.Context) (protocol.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h, f.err
}

type fakeConn struct{ connected atomic.Bool }

func (c *fakeConn) IsConnected() bool { return c.connected.Load() }

type fakeCommands struct{ sent atomic.Int64 }

func (c *fakeCommands) SendCommand(ctx context.Context, cmd protocol.StationCommand) error {
	c.sent.Add(1)
	return nil
}

func healthy() protocol.HealthStatus {
	return protocol.HealthStatus{
		HardwareConnected: true, DataUpdating: true, BatterySOC: 80,
		CommunicationOK: true, Ready: true,
	}
}

func readyReport() protocol.VehicleReport {
	return protocol.VehicleReport{
		VehicleID: "agv-1",
		State:     protocol.VehicleReady,
		Telemetry: protocol.TelemetrySummary{SOC: 80, ObstacleMm: 1000},
	}
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	c := Config{
		AppConfig: config.Defaults(),
		DB:        testDB(t),
		Health:    &fakeHealth{h: healthy()},
		LogFunc:   t.Logf,
	}
	if mutate != nil {
		mutate(&c)
	}
	return New(c)
}

func TestHealthRoundLogsTransition(t *testing.T) {
	e := testEngine(t, nil)
	e.HandleReport(readyReport())
	if v := e.ProbeHealth(context.Background()); !v.OK {
		t.Fatalf("verdict = %+v", v)
	}
	if got := e.Machine().State(); got != station.Ready {
		t.Fatalf("state = %s, want ready", got)
	}
	trs, err := e.DB().ListTransitions("station", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trs) != 1 || trs[0].From != "initial" || trs[0].To != "ready" {
		t.Fatalf("transitions = %+v", trs)
	}
}

func TestProbeWithoutHealthSource(t *testing.T) {
	e := testEngine(t, func(c *Config) { c.Health = nil })
	v := e.ProbeHealth(context.Background())
	if v.OK || len(v.Failed) != 1 || v.Failed[0] != station.CheckCommunication {
		t.Fatalf("verdict = %+v", v)
	}
	if e.Machine().Snapshot().HealthFailures != 1 {
		t.Errorf("failures = %d, want 1", e.Machine().Snapshot().HealthFailures)
	}
}

func TestProbeErrorCounts(t *testing.T) {
	e := testEngine(t, func(c *Config) { c.Health = &fakeHealth{err: errors.New("connection refused")} })
	for i := 0; i < 3; i++ {
		e.ProbeHealth(context.Background())
	}
	if got := e.Machine().State(); got != station.Abnormal {
		t.Fatalf("state = %s, want abnormal", got)
	}
}

func TestHandleReportLogsTagChanges(t *testing.T) {
	e := testEngine(t, nil)
	for _, tag := range []uint32{0, 3, 3, 4, 4, 3} {
		r := readyReport()
		r.Tag = protocol.TagInfo{ID: tag, SpeedLimit: 120}
		e.HandleReport(r)
	}
	evs, err := e.DB().ListTagEvents(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("tag events = %d, want 3", len(evs))
	}
	if evs[0].TagID != 3 || evs[0].VehicleID != "agv-1" || evs[0].SpeedLimit != 120 {
		t.Errorf("newest = %+v", evs[0])
	}
}

func TestReportEventPublished(t *testing.T) {
	e := testEngine(t, nil)
	var got []protocol.VehicleReport
	e.Events.SubscribeTypes(func(evt Event) {
		got = append(got, evt.Payload.(VehicleReportEvent).Report)
	}, EventVehicleReport)
	e.HandleReport(readyReport())
	if len(got) != 1 || got[0].VehicleID != "agv-1" {
		t.Fatalf("events = %+v", got)
	}
}

func TestApplyRejected(t *testing.T) {
	e := testEngine(t, nil)
	if err := e.Apply(station.ActionGo); !errors.Is(err, station.ErrRejected) {
		t.Fatalf("Apply(go) in initial = %v, want ErrRejected", err)
	}
	if e.Command().Command != protocol.CommandNone {
		t.Errorf("command = %q", e.Command().Command)
	}
}

func TestApplyGoDerivesCommand(t *testing.T) {
	e := testEngine(t, nil)
	e.HandleReport(readyReport())
	e.ProbeHealth(context.Background())
	if err := e.Apply(station.ActionGo); err != nil {
		t.Fatalf("Apply(go): %v", err)
	}
	if got := e.Command().Command; got != protocol.CommandGo {
		t.Errorf("command = %q, want go", got)
	}
	trs, _ := e.DB().ListTransitions("station", 10)
	if len(trs) != 2 || trs[0].To != "running" {
		t.Errorf("transitions = %+v", trs)
	}
}

// ============================================================
// Outbox
// ============================================================

func TestTransitionsEnqueuedOnBroker(t *testing.T) {
	e := testEngine(t, func(c *Config) { c.MsgClient = &fakeConn{} })
	e.HandleReport(readyReport())
	e.ProbeHealth(context.Background())

	msgs, err := e.DB().PendingOutbox(10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("outbox = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Topic != e.AppConfig().Messaging.EventsTopic || m.MsgType != protocol.TypeStationEvent || m.Source != e.AppConfig().Messaging.StationID {
		t.Errorf("message = %+v", m)
	}

	var env protocol.Envelope
	if err := protocol.JSON.Unmarshal(m.Payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var se protocol.StationEvent
	if err := env.DecodePayloadWith(protocol.JSON, &se); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if se.Machine != "station" || se.From != "initial" || se.To != "ready" {
		t.Errorf("event = %+v", se)
	}
}

func TestNoOutboxOnHTTP(t *testing.T) {
	e := testEngine(t, nil)
	e.HandleReport(readyReport())
	e.ProbeHealth(context.Background())
	msgs, _ := e.DB().PendingOutbox(10)
	if len(msgs) != 0 {
		t.Fatalf("outbox = %d, want 0 without a broker", len(msgs))
	}
}

// ============================================================
// Loops
// ============================================================

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopsReachReadyAndPublish(t *testing.T) {
	cmds := &fakeCommands{}
	conn := &fakeConn{}
	conn.connected.Store(true)
	e := testEngine(t, func(c *Config) {
		c.AppConfig.Station.HealthInterval = 20 * time.Millisecond
		c.AppConfig.Station.CycleInterval = 10 * time.Millisecond
		c.AppConfig.Sync.CommandInterval = 10 * time.Millisecond
		c.Commands = cmds
		c.MsgClient = conn
	})
	var connected atomic.Bool
	e.Events.SubscribeTypes(func(Event) { connected.Store(true) }, EventMessagingConnected)

	e.HandleReport(readyReport())
	e.Start()
	defer e.Stop()

	waitFor(t, "ready", func() bool { return e.Machine().State() == station.Ready })
	waitFor(t, "commands", func() bool { return cmds.sent.Load() >= 3 })
	if !connected.Load() {
		t.Error("messaging connected event not emitted")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	e := testEngine(t, nil)
	e.Start()
	e.Stop()
	e.Stop()
}
