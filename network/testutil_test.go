package network

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"peerchat/models"
	"peerchat/storage"
)

func newTestDirectory(t *testing.T, addr, chatAddr string) *storage.Directory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peers.json")
	return storage.NewDirectory(models.NewPeerID(), addr, chatAddr, path)
}

func startTestServer(t *testing.T, dir *storage.Directory, options ServerOptions) *Server {
	t.Helper()

	options.Directory = dir
	server, err := Listen("127.0.0.1:0", options)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
	})
	return server
}

func dialTest(t *testing.T, address string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s failed: %v", address, err)
	}
	if err := conn.SetDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set deadline failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []storage.HandshakeEvent
}

func (r *memoryRecorder) RecordHandshake(event storage.HandshakeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memoryRecorder) snapshot() []storage.HandshakeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.HandshakeEvent(nil), r.events...)
}
