package syncchan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"linetrack/protocol"
)

var t0 = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func TestCellLastWriteWins(t *testing.T) {
	var c Cell[string]
	if _, seq, _ := c.Load(); seq != 0 {
		t.Fatalf("empty cell seq = %d", seq)
	}
	if c.Fresh(t0, time.Hour) {
		t.Error("empty cell should not be fresh")
	}
	c.Store("a", t0)
	if seq := c.Store("b", t0.Add(time.Second)); seq != 2 {
		t.Errorf("seq = %d, want 2", seq)
	}
	v, seq, at := c.Load()
	if v != "b" || seq != 2 || !at.Equal(t0.Add(time.Second)) {
		t.Errorf("Load = %q, %d, %v", v, seq, at)
	}
	if !c.Fresh(t0.Add(2*time.Second), time.Second) {
		t.Error("value 1 s old should be fresh with 1 s window")
	}
	if c.Fresh(t0.Add(3*time.Second), time.Second) {
		t.Error("value 2 s old should be stale")
	}
}

func TestCellConcurrent(t *testing.T) {
	var c Cell[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Store(i, time.Now())
				c.Load()
			}
		}(i)
	}
	wg.Wait()
	if _, seq, _ := c.Load(); seq != 800 {
		t.Errorf("seq = %d, want 800", seq)
	}
}

func TestLivenessDetectsStall(t *testing.T) {
	l := NewLiveness(time.Second)
	if l.Live(t0) || l.Since(t0) != -1 {
		t.Fatal("unseen counter should not be live")
	}
	l.Observe(1, t0)
	l.Observe(1, t0.Add(800*time.Millisecond))
	l.Observe(1, t0.Add(1500*time.Millisecond))
	if l.Live(t0.Add(1500 * time.Millisecond)) {
		t.Error("repeated counter should stall after the window")
	}
	l.Observe(2, t0.Add(1600*time.Millisecond))
	if !l.Live(t0.Add(1700 * time.Millisecond)) {
		t.Error("advanced counter should be live")
	}
	if got := l.Since(t0.Add(1700 * time.Millisecond)); got != 100*time.Millisecond {
		t.Errorf("Since = %v", got)
	}
}

// ============================================================
// Lossy link
// ============================================================

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) SendReport(context.Context, protocol.VehicleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func TestLossyDropRate(t *testing.T) {
	l := NewLossy(0.3, 0, 42)
	sink := &countingSink{}
	reports := l.Reports(sink)

	dropErrs := 0
	for i := 0; i < 1000; i++ {
		if err := reports.SendReport(context.Background(), protocol.VehicleReport{}); errors.Is(err, ErrDropped) {
			dropErrs++
		}
	}
	dropped, passed := l.Counts()
	if int(dropped) != dropErrs || int(passed) != sink.n || dropped+passed != 1000 {
		t.Fatalf("dropped=%d passed=%d errs=%d delivered=%d", dropped, passed, dropErrs, sink.n)
	}
	if dropped < 230 || dropped > 370 {
		t.Errorf("dropped %d of 1000 at 30%%", dropped)
	}
}

func TestLossyZeroPassesAll(t *testing.T) {
	var l Lossy
	sink := &countingSink{}
	for i := 0; i < 50; i++ {
		if err := l.Reports(sink).SendReport(context.Background(), protocol.VehicleReport{}); err != nil {
			t.Fatalf("SendReport: %v", err)
		}
	}
	if sink.n != 50 {
		t.Errorf("delivered %d", sink.n)
	}
}

func TestLossyLatencyHonorsContext(t *testing.T) {
	l := NewLossy(0, time.Hour, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Commands(nil).FetchCommand(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// ============================================================
// HTTP client
// ============================================================

func testServer(handler http.HandlerFunc) (*httptest.Server, *Client) {
	srv := httptest.NewServer(handler)
	return srv, NewClient(srv.URL, 5*time.Second)
}

func TestSendReport(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathReport || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var rep protocol.VehicleReport
		json.NewDecoder(r.Body).Decode(&rep)
		if rep.VehicleID != "agv-1" || rep.Alive != 7 {
			t.Errorf("report = %+v", rep)
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	defer srv.Close()

	if err := client.SendReport(context.Background(), protocol.VehicleReport{VehicleID: "agv-1", Alive: 7}); err != nil {
		t.Fatalf("SendReport: %v", err)
	}
}

func TestFetchCommand(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathCommand {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(protocol.StationCommand{Command: protocol.CommandGo, Alive: 12})
	})
	defer srv.Close()

	cmd, err := client.FetchCommand(context.Background())
	if err != nil {
		t.Fatalf("FetchCommand: %v", err)
	}
	if cmd.Command != protocol.CommandGo || cmd.Alive != 12 {
		t.Errorf("cmd = %+v", cmd)
	}
}

func TestFetchCommandRejectsUnknown(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"command":"jump","alive":1}`))
	})
	defer srv.Close()

	if _, err := client.FetchCommand(context.Background()); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestFetchHealthHTTPError(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"down"}`, http.StatusServiceUnavailable)
	})
	defer srv.Close()

	if _, err := client.FetchHealth(context.Background()); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestFetchHealth(t *testing.T) {
	srv, client := testServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathHealth {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(protocol.HealthStatus{HardwareConnected: true, BatterySOC: 64, Ready: true})
	})
	defer srv.Close()

	h, err := client.FetchHealth(context.Background())
	if err != nil {
		t.Fatalf("FetchHealth: %v", err)
	}
	if !h.HardwareConnected || h.BatterySOC != 64 || !h.Ready {
		t.Errorf("health = %+v", h)
	}
}

func TestClientTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := NewClient(srv.URL, 50*time.Millisecond)
	start := time.Now()
	if _, err := client.FetchCommand(context.Background()); err == nil {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("request not bounded by timeout")
	}
}

// ============================================================
// Broker transport
// ============================================================

type memPublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (p *memPublisher) Publish(topic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.msgs == nil {
		p.msgs = make(map[string][][]byte)
	}
	p.msgs[topic] = append(p.msgs[topic], data)
	return nil
}

type cellHandler struct {
	protocol.NoOpHandler
	commands *Cell[protocol.StationCommand]
	reports  *Cell[protocol.VehicleReport]
}

func (h *cellHandler) HandleStationCommand(_ *protocol.Envelope, p *protocol.StationCommand) {
	h.commands.Store(*p, time.Now())
}

func (h *cellHandler) HandleVehicleReport(_ *protocol.Envelope, p *protocol.VehicleReport) {
	h.reports.Store(*p, time.Now())
}

func TestBrokerRoundTrip(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSON, protocol.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			pub := &memPublisher{}
			vehicle := protocol.Address{Role: protocol.RoleVehicle, Node: "agv-1"}
			station := protocol.Address{Role: protocol.RoleStation, Node: "station"}

			cmdSink := NewBrokerSink(pub, codec, "linetrack/commands", station, vehicle)
			repSink := NewBrokerSink(pub, codec, "linetrack/reports", vehicle, station)
			ctx := context.Background()
			if err := cmdSink.SendCommand(ctx, protocol.StationCommand{Command: protocol.CommandPause, Alive: 3}); err != nil {
				t.Fatal(err)
			}
			if err := repSink.SendReport(ctx, protocol.VehicleReport{VehicleID: "agv-1", State: protocol.VehicleRunning}); err != nil {
				t.Fatal(err)
			}

			h := &cellHandler{commands: &Cell[protocol.StationCommand]{}, reports: &Cell[protocol.VehicleReport]{}}
			ing := protocol.NewIngestorWith(codec, h, nil)
			for _, topic := range []string{"linetrack/commands", "linetrack/reports"} {
				if len(pub.msgs[topic]) != 1 {
					t.Fatalf("%s: %d messages", topic, len(pub.msgs[topic]))
				}
				ing.HandleRaw(pub.msgs[topic][0])
			}

			src := &CommandCell{CellSource[protocol.StationCommand]{Cell: h.commands}}
			cmd, err := src.FetchCommand(ctx)
			if err != nil || cmd.Command != protocol.CommandPause || cmd.Alive != 3 {
				t.Errorf("command = %+v, %v", cmd, err)
			}
			if r, _, _ := h.reports.Load(); r.State != protocol.VehicleRunning {
				t.Errorf("report = %+v", r)
			}
		})
	}
}

func TestCellSourceFreshness(t *testing.T) {
	now := t0
	cell := &Cell[protocol.HealthStatus]{}
	src := &HealthCell{CellSource[protocol.HealthStatus]{Cell: cell, MaxAge: time.Second, Now: func() time.Time { return now }}}

	if _, err := src.FetchHealth(context.Background()); !errors.Is(err, ErrNoValue) {
		t.Fatalf("empty: err = %v", err)
	}
	cell.Store(protocol.HealthStatus{BatterySOC: 50}, t0)
	now = t0.Add(500 * time.Millisecond)
	if h, err := src.FetchHealth(context.Background()); err != nil || h.BatterySOC != 50 {
		t.Errorf("fresh: %+v, %v", h, err)
	}
	now = t0.Add(2 * time.Second)
	if _, err := src.FetchHealth(context.Background()); !errors.Is(err, ErrNoValue) {
		t.Errorf("stale: err = %v", err)
	}
}
