package www

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"linetrack/config"
	"linetrack/engine"
	"linetrack/protocol"
	"linetrack/station"
	"linetrack/store"
	"linetrack/syncchan"
)

type fakeHealth struct{}

func (fakeHealth) FetchHealth(ctx context.Context) (protocol.HealthStatus, error) {
	return protocol.HealthStatus{
		HardwareConnected: true, DataUpdating: true, BatterySOC: 80,
		CommunicationOK: true, Ready: true,
	}, nil
}

func testStation(t *testing.T) (*engine.Engine, *httptest.Server) {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	eng := engine.New(engine.Config{
		AppConfig: config.Defaults(),
		DB:        db,
		Health:    fakeHealth{},
		LogFunc:   t.Logf,
	})
	h, stop := NewRouter(eng)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		stop()
		db.Close()
	})
	return eng, srv
}

func readyReport() protocol.VehicleReport {
	return protocol.VehicleReport{
		VehicleID: "agv-1",
		State:     protocol.VehicleReady,
		Telemetry: protocol.TelemetrySummary{SOC: 80, ObstacleMm: 1000},
		Alive:     7,
	}
}

func loggedIn(t *testing.T, base string) *http.Client {
	t.Helper()
	jar, _ := cookiejar.New(nil)
	c := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	resp, err := c.PostForm(base+"/login", url.Values{"username": {DefaultAdmin}, "password": {DefaultAdmin}})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	return c
}

func postCommand(t *testing.T, c *http.Client, base, cmd string) (int, map[string]any) {
	t.Helper()
	resp, err := c.Post(base+"/api/command", "application/json", strings.NewReader(`{"command":"`+cmd+`"}`))
	if err != nil {
		t.Fatalf("post command: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func getJSON(t *testing.T, u string, v any) int {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

// ============================================================
// Sync endpoints
// ============================================================

func TestSyncRoundTripWithClient(t *testing.T) {
	eng, srv := testStation(t)
	client := syncchan.NewClient(srv.URL, time.Second)
	ctx := context.Background()

	if err := client.SendReport(ctx, readyReport()); err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	snap := eng.Machine().Snapshot()
	if !snap.HaveReport || snap.Report.Alive != 7 {
		t.Fatalf("snapshot = %+v", snap)
	}

	cmd, err := client.FetchCommand(ctx)
	if err != nil {
		t.Fatalf("FetchCommand: %v", err)
	}
	if cmd.Command != protocol.CommandNone {
		t.Errorf("initial command = %q, want none", cmd.Command)
	}

	eng.ProbeHealth(ctx)
	cmd, _ = client.FetchCommand(ctx)
	if cmd.Command != protocol.CommandPause {
		t.Errorf("ready command = %q, want pause", cmd.Command)
	}
}

func TestSyncReportRejectsGarbage(t *testing.T) {
	_, srv := testStation(t)
	resp, err := http.Post(srv.URL+syncchan.PathReport, "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReportDefaultsVehicleID(t *testing.T) {
	eng, srv := testStation(t)
	r := readyReport()
	r.VehicleID = ""
	syncchan.NewClient(srv.URL, time.Second).SendReport(context.Background(), r)
	if got := eng.Machine().Snapshot().Report.VehicleID; got != eng.AppConfig().VehicleID {
		t.Errorf("vehicle id = %q, want %q", got, eng.AppConfig().VehicleID)
	}
}

// ============================================================
// Operator API
// ============================================================

func TestSessionCookieWorksOverPlainHTTP(t *testing.T) {
	_, srv := testStation(t)
	resp, err := http.PostForm(srv.URL+"/login", url.Values{"username": {DefaultAdmin}, "password": {DefaultAdmin}})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	cookies := resp.Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionName {
		t.Fatalf("cookies = %v", cookies)
	}
	if cookies[0].Secure {
		t.Error("session cookie marked Secure on a plain HTTP station")
	}

	c := loggedIn(t, srv.URL)
	if code, _ := postCommand(t, c, srv.URL, "estop"); code == http.StatusUnauthorized {
		t.Error("session not sent back after login")
	}
}

func TestSecureCookiesOption(t *testing.T) {
	if !newSessionStore("k", true).Options.Secure {
		t.Error("secure option ignored")
	}
	if newSessionStore("k", false).Options.Secure {
		t.Error("plain store marked Secure")
	}
}

func TestCommandRequiresLogin(t *testing.T) {
	_, srv := testStation(t)
	code, _ := postCommand(t, http.DefaultClient, srv.URL, "go")
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestBadLogin(t *testing.T) {
	_, srv := testStation(t)
	resp, err := http.PostForm(srv.URL+"/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestOperatorCommands(t *testing.T) {
	eng, srv := testStation(t)
	c := loggedIn(t, srv.URL)

	if code, _ := postCommand(t, c, srv.URL, "go"); code != http.StatusConflict {
		t.Fatalf("go in initial: status = %d, want 409", code)
	}
	if code, _ := postCommand(t, c, srv.URL, "fly"); code != http.StatusBadRequest {
		t.Fatalf("unknown: status = %d, want 400", code)
	}

	eng.HandleReport(readyReport())
	eng.ProbeHealth(context.Background())

	code, body := postCommand(t, c, srv.URL, "go")
	if code != http.StatusOK {
		t.Fatalf("go: status = %d body = %v", code, body)
	}
	if body["state"] != string(station.Running) || body["command"] != protocol.CommandGo || body["operator"] != DefaultAdmin {
		t.Errorf("body = %v", body)
	}

	var state struct {
		State   string           `json:"state"`
		Warning *station.Warning `json:"warning"`
	}
	getJSON(t, srv.URL+"/api/state", &state)
	if state.State != string(station.Running) || state.Warning != nil {
		t.Errorf("state = %+v", state)
	}

	postCommand(t, c, srv.URL, "estop")
	getJSON(t, srv.URL+"/api/state", &state)
	if state.State != string(station.ServerEStop) || state.Warning == nil {
		t.Errorf("after estop state = %+v", state)
	}

	var trs []store.Transition
	getJSON(t, srv.URL+"/api/transitions?machine=station&limit=2", &trs)
	if len(trs) != 2 || trs[0].To != string(station.ServerEStop) {
		t.Errorf("transitions = %+v", trs)
	}
}

func TestLogoutDropsSession(t *testing.T) {
	_, srv := testStation(t)
	c := loggedIn(t, srv.URL)
	resp, err := c.Post(srv.URL+"/logout", "", nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if code, _ := postCommand(t, c, srv.URL, "go"); code != http.StatusUnauthorized {
		t.Errorf("after logout: status = %d, want 401", code)
	}
}

func TestChangePassword(t *testing.T) {
	_, srv := testStation(t)
	c := loggedIn(t, srv.URL)

	change := func(current, next string) int {
		resp, err := c.PostForm(srv.URL+"/api/password", url.Values{"current": {current}, "new": {next}})
		if err != nil {
			t.Fatalf("change password: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := change("wrong", "s3cret"); code != http.StatusForbidden {
		t.Errorf("wrong current: status = %d, want 403", code)
	}
	if code := change(DefaultAdmin, "x"); code != http.StatusBadRequest {
		t.Errorf("short password: status = %d, want 400", code)
	}
	if code := change(DefaultAdmin, "s3cret"); code != http.StatusOK {
		t.Fatalf("change: status = %d", code)
	}

	resp, _ := http.PostForm(srv.URL+"/login", url.Values{"username": {DefaultAdmin}, "password": {DefaultAdmin}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("old password still accepted")
	}
	resp, _ = http.PostForm(srv.URL+"/login", url.Values{"username": {DefaultAdmin}, "password": {"s3cret"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("new password rejected: %d", resp.StatusCode)
	}
}

func TestPasswordRequiresLogin(t *testing.T) {
	_, srv := testStation(t)
	resp, err := http.PostForm(srv.URL+"/api/password", url.Values{"current": {DefaultAdmin}, "new": {"s3cret"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestReportEndpoint(t *testing.T) {
	eng, srv := testStation(t)
	if code := getJSON(t, srv.URL+"/api/report", nil); code != http.StatusNotFound {
		t.Errorf("before report: status = %d, want 404", code)
	}
	eng.HandleReport(readyReport())
	var rep protocol.VehicleReport
	if code := getJSON(t, srv.URL+"/api/report", &rep); code != http.StatusOK || rep.VehicleID != "agv-1" {
		t.Errorf("report = %d %+v", code, rep)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := testStation(t)
	var body map[string]any
	getJSON(t, srv.URL+"/api/health", &body)
	if body["status"] != "ok" || body["messaging"] != false || body["station"] != string(station.Initial) {
		t.Errorf("body = %v", body)
	}
	outbox, ok := body["outbox"].(map[string]any)
	if !ok || outbox["pending"] != float64(0) || outbox["dropped"] != float64(0) {
		t.Errorf("outbox = %v", body["outbox"])
	}
}

func TestEventStream(t *testing.T) {
	eng, srv := testStation(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	eng.HandleReport(readyReport())
	eng.ProbeHealth(context.Background())

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() != "event: state" {
			continue
		}
		if !sc.Scan() {
			break
		}
		var ev engine.StateChangedEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(sc.Text(), "data: ")), &ev); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		if ev.From != station.Initial || ev.To != station.Ready {
			t.Errorf("event = %+v", ev)
		}
		return
	}
	t.Fatal("no state event received")
}

// ============================================================
// Vehicle server
// ============================================================

type fakeVehicle struct{}

func (fakeVehicle) Health() protocol.HealthStatus {
	return protocol.HealthStatus{HardwareConnected: true, BatterySOC: 55}
}

func (fakeVehicle) Status() protocol.VehicleReport {
	return protocol.VehicleReport{VehicleID: "agv-9", State: protocol.VehicleRunning}
}

func TestVehicleRouter(t *testing.T) {
	srv := httptest.NewServer(NewVehicleRouter(fakeVehicle{}))
	defer srv.Close()

	client := syncchan.NewClient(srv.URL, time.Second)
	h, err := client.FetchHealth(context.Background())
	if err != nil {
		t.Fatalf("FetchHealth: %v", err)
	}
	if !h.HardwareConnected || h.BatterySOC != 55 {
		t.Errorf("health = %+v", h)
	}
	rep, err := client.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if rep.VehicleID != "agv-9" || rep.State != protocol.VehicleRunning {
		t.Errorf("status = %+v", rep)
	}
}
