package db

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/colindt/wall-display/internal/config"
)

// captureHandler keeps every record's attributes for assertions.
type captureHandler struct {
	mu    sync.Mutex
	attrs []map[string]slog.Value
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.attrs = append(h.attrs, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) last(t *testing.T, msg string) map[string]slog.Value {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.attrs) - 1; i >= 0; i-- {
		if h.attrs[i]["msg"].String() == msg {
			return h.attrs[i]
		}
	}
	t.Fatalf("no %q log record", msg)
	return nil
}

func openLogged(t *testing.T, h *captureHandler) *sql.DB {
	t.Helper()
	db := sql.OpenDB(NewLoggingConnector(":memory:", slog.New(h)))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		want string
	}{
		{"memory", ":memory:", "file::memory:?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{"uri", "file:x.db", "file:x.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{"uri with params", "file:x.db?mode=ro", "file:x.db?mode=ro&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{"plain path", filepath.Join(dir, "sub", "a.db"), "file:" + filepath.Join(dir, "sub", "a.db") + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.path)
			if err != nil {
				t.Fatalf("buildDSN: %v", err)
			}
			if got != tt.want {
				t.Errorf("buildDSN(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	cfg := config.Config{
		SQLitePath:         filepath.Join(t.TempDir(), "nested", "archive.db"),
		SQLiteMaxOpenConns: 1,
	}
	db, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(db) }()

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpen_DebugLoggerLogsStatements(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := config.Config{SQLitePath: ":memory:", SQLiteMaxOpenConns: 1}

	db, err := Open(cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(db) }()

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(buf.String(), "CREATE TABLE t") {
		t.Errorf("statement not logged: %s", buf.String())
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v", err)
	}
}

func TestLoggingConnector_ExecAndQuery(t *testing.T) {
	h := &captureHandler{}
	db := openLogged(t, h)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER, name TEXT, raw BLOB)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	got := h.last(t, "sql")
	if got["op"].String() != "exec" {
		t.Errorf("op = %q, want exec", got["op"].String())
	}

	if _, err := db.Exec(`INSERT INTO t VALUES (?, ?, ?)`, 1, nil, []byte{0xAB, 0x01}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got = h.last(t, "sql")
	args, ok := got["args"].Any().([]string)
	if !ok {
		t.Fatalf("args = %#v, want []string", got["args"].Any())
	}
	want := []string{"1", "NULL", "x'AB01'"}
	if strings.Join(args, ",") != strings.Join(want, ",") {
		t.Errorf("args = %v, want %v", args, want)
	}
	if _, ok := got["elapsed"]; !ok {
		t.Error("missing elapsed attribute")
	}

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	got = h.last(t, "sql")
	if got["op"].String() != "query" || got["sql"].String() != `SELECT count(*) FROM t` {
		t.Errorf("query log = %v", got)
	}
}

func TestLoggingConnector_ErrorsLogged(t *testing.T) {
	h := &captureHandler{}
	db := openLogged(t, h)

	if _, err := db.Exec(`SELEC nonsense`); err == nil {
		t.Fatal("expected syntax error")
	}
	got := h.last(t, "sql prepare failed")
	if got["sql"].String() != `SELEC nonsense` {
		t.Errorf("sql = %q", got["sql"].String())
	}
}

func TestLoggingConnector_Transactions(t *testing.T) {
	db := openLogged(t, &captureHandler{})
	if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Exec(`INSERT INTO t VALUES (1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rows after rollback = %d, want 0", n)
	}
}

func TestLoggingConnector_DriverOpenRefused(t *testing.T) {
	c := NewLoggingConnector(":memory:", nil)
	if _, err := c.Driver().Open(":memory:"); err == nil {
		t.Fatal("expected direct driver open to fail")
	}
	var _ driver.Connector = c
}
