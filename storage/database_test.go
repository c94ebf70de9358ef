package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenPathCreatesParentsAndSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app", "data", "events.db")
	store, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	var version int
	if err := store.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}

	objects := map[string]string{
		"handshake_events":          "table",
		"idx_handshake_events_time": "index",
		"idx_handshake_events_peer": "index",
	}
	for name, kind := range objects {
		var count int
		if err := store.db.QueryRow(
			"SELECT COUNT(1) FROM sqlite_master WHERE type = ? AND name = ?",
			kind, name,
		).Scan(&count); err != nil {
			t.Fatalf("look up %s %q: %v", kind, name, err)
		}
		if count != 1 {
			t.Fatalf("expected %s %q to exist", kind, name)
		}
	}
}

func TestHandshakeEventsRejectUnknownDirectionAndOutcome(t *testing.T) {
	store := newTestStore(t)

	insert := "INSERT INTO handshake_events (peer_id, remote_addr, direction, outcome, timestamp) VALUES (?, ?, ?, ?, ?)"
	cases := []struct {
		name      string
		direction string
		outcome   string
		wantErr   bool
	}{
		{"valid", DirectionInbound, OutcomeOK, false},
		{"sideways direction", "sideways", OutcomeOK, true},
		{"maybe outcome", DirectionOutbound, "maybe", true},
		{"empty direction", "", OutcomeFailed, true},
	}
	for _, tc := range cases {
		_, err := store.db.Exec(insert, "peer", "127.0.0.1:7040", tc.direction, tc.outcome, 1)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected CHECK constraint to reject the row", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected insert error: %v", tc.name, err)
		}
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(1) FROM handshake_events").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the valid row to be stored, got %d", count)
	}
}
