package storage

import (
	"path/filepath"
	"testing"

	"peerchat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenPath(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "peers.json")
	return NewDirectory(models.NewPeerID(), "127.0.0.1:7040", "127.0.0.1:7041", path)
}
