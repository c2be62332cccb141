package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"linetrack/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

func TestTransitionLog(t *testing.T) {
	db := testDB(t)

	for _, tr := range [][3]string{
		{"initial", "ready", "health check passed"},
		{"ready", "running", "operator go"},
		{"running", "push_estop", "vehicle reports emergency"},
	} {
		if _, err := db.LogTransition("station", tr[0], tr[1], tr[2]); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if _, err := db.LogTransition("vehicle", "ready", "running", "station go"); err != nil {
		t.Fatalf("log: %v", err)
	}

	all, err := db.ListTransitions("", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].Machine != "vehicle" {
		t.Errorf("newest first: got %q", all[0].Machine)
	}

	station, _ := db.ListTransitions("station", 2)
	if len(station) != 2 {
		t.Fatalf("limited len = %d, want 2", len(station))
	}
	if station[0].To != "push_estop" || station[1].To != "running" {
		t.Errorf("order = %s, %s", station[0].To, station[1].To)
	}
	if station[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestTagEvents(t *testing.T) {
	db := testDB(t)
	db.LogTagEvent("agv-1", 1, 150, "running")
	db.LogTagEvent("agv-1", 10, 0, "running")

	events, err := db.ListTagEvents(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d", len(events))
	}
	if events[0].TagID != 10 || events[1].SpeedLimit != 150 || events[1].VehicleID != "agv-1" {
		t.Errorf("events = %+v, %+v", events[0], events[1])
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	first, err := db.EnqueueOutbox("linetrack/events", "station.event", "station", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, _ := db.EnqueueOutbox("linetrack/events", "station.event", "station", []byte(`{"a":2}`))
	if second <= first {
		t.Fatalf("ids %d, %d not increasing", first, second)
	}

	msgs, err := db.PendingOutbox(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("pending = %d, want 2", len(msgs))
	}
	if string(msgs[0].Payload) != `{"a":1}` || msgs[0].Source != "station" || msgs[0].SentAt != nil {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Error("created_at not scanned")
	}

	if n, dropped, err := db.FailOutbox(second, 10); err != nil || n != 1 || dropped {
		t.Fatalf("FailOutbox = %d, %v, %v", n, dropped, err)
	}
	if err := db.MarkOutboxSent(first); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	msgs, _ = db.PendingOutbox(10)
	if len(msgs) != 1 || msgs[0].ID != second || msgs[0].Attempts != 1 {
		t.Fatalf("pending after send = %+v", msgs)
	}
}

func TestFailOutboxRetires(t *testing.T) {
	db := testDB(t)
	id, _ := db.EnqueueOutbox("t", "m", "c", []byte("x"))

	for i := 1; i < 3; i++ {
		if _, dropped, _ := db.FailOutbox(id, 3); dropped {
			t.Fatalf("dropped after %d attempts", i)
		}
	}
	n, dropped, err := db.FailOutbox(id, 3)
	if err != nil || n != 3 || !dropped {
		t.Fatalf("third failure = %d, %v, %v", n, dropped, err)
	}
	if msgs, _ := db.PendingOutbox(10); len(msgs) != 0 {
		t.Errorf("retired message still pending")
	}

	db.EnqueueOutbox("t", "m", "c", []byte("y"))
	pending, droppedCount, err := db.OutboxBacklog()
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if pending != 1 || droppedCount != 1 {
		t.Errorf("backlog = %d pending, %d dropped", pending, droppedCount)
	}
}

func TestOutboxBacklogEmpty(t *testing.T) {
	db := testDB(t)
	pending, dropped, err := db.OutboxBacklog()
	if err != nil || pending != 0 || dropped != 0 {
		t.Errorf("backlog = %d, %d, %v", pending, dropped, err)
	}
}

func TestOperators(t *testing.T) {
	db := testDB(t)

	exists, err := db.HasOperators()
	if err != nil || exists {
		t.Fatalf("exists = %v, %v", exists, err)
	}
	if err := db.CreateOperator("admin", "$2a$10$hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.CreateOperator("admin", "other"); err == nil {
		t.Error("duplicate username should fail")
	}
	op, err := db.GetOperator("admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if op.PasswordHash != "$2a$10$hash" || op.LastLogin != nil {
		t.Errorf("operator = %+v", op)
	}
	if _, err := db.GetOperator("nobody"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing operator err = %v", err)
	}

	if err := db.SetOperatorPassword("admin", "$2a$10$new"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := db.SetOperatorPassword("nobody", "x"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("set password for missing operator err = %v", err)
	}
	if err := db.RecordLogin("admin"); err != nil {
		t.Fatalf("record login: %v", err)
	}
	op, _ = db.GetOperator("admin")
	if op.PasswordHash != "$2a$10$new" || op.LastLogin == nil {
		t.Errorf("after update = %+v", op)
	}
}

func TestOpenResetsSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	cfg := &config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: path}}

	db, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	db.LogTransition("station", "initial", "ready", "")
	db.LogTagEvent("agv-1", 1, 0, "ready")
	db.EnqueueOutbox("t", "m", "c", []byte("x"))
	db.CreateOperator("admin", "hash")
	db.Close()

	db, err = Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if list, _ := db.ListTransitions("", 10); len(list) != 0 {
		t.Errorf("transitions survived reopen: %d", len(list))
	}
	if list, _ := db.ListTagEvents(10); len(list) != 0 {
		t.Errorf("tag events survived reopen: %d", len(list))
	}
	if list, _ := db.PendingOutbox(10); len(list) != 0 {
		t.Errorf("outbox survived reopen: %d", len(list))
	}
	if ok, _ := db.HasOperators(); !ok {
		t.Error("operator accounts should survive reopen")
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.LogTransition("station", "initial", "ready", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if list, _ := db.ListTransitions("", 10); len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(&config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRebind(t *testing.T) {
	got := Rebind(`UPDATE outbox SET retries=? WHERE id=? AND topic=?`)
	want := `UPDATE outbox SET retries=$1 WHERE id=$2 AND topic=$3`
	if got != want {
		t.Errorf("Rebind = %q", got)
	}
}

func TestPlaceholder(t *testing.T) {
	if got := sqliteDialect.Placeholder(3); got != "?" {
		t.Errorf("sqlite = %q", got)
	}
	if got := postgresDialect.Placeholder(3); got != "$3" {
		t.Errorf("postgres = %q", got)
	}
	q := `SELECT 1 WHERE a=?`
	if got := sqliteDialect.Rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestScanTime(t *testing.T) {
	want := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, v := range []any{"2026-03-04 05:06:07", "2026-03-04T05:06:07Z", []byte("2026-03-04 05:06:07"), want.In(time.FixedZone("x", 3600))} {
		if got := scanTime(v); !got.Equal(want) {
			t.Errorf("scanTime(%v) = %v", v, got)
		}
	}
	if scanTimePtr(nil) != nil {
		t.Error("nil should scan to nil")
	}
}
