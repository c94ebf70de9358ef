package network

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"peerchat/models"
	"peerchat/storage"
)

func TestServerAnswersPingAndRecordsRequester(t *testing.T) {
	dir := newTestDirectory(t, "127.0.0.1:7040", "127.0.0.1:7041")
	recorder := &memoryRecorder{}
	server := startTestServer(t, dir, ServerOptions{Recorder: recorder})

	start := time.Now()
	requester := models.NewPeerID()
	conn := dialTest(t, server.Addr().String())

	if err := WriteRequest(conn, Ping{
		PeerID:       requester,
		PeerAddr:     "10.0.0.9:7040",
		PeerChatAddr: "10.0.0.9:7041",
	}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	reply, err := ReadRequest(conn)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	pong, ok := reply.(Pong)
	if !ok {
		t.Fatalf("expected Pong, got %T", reply)
	}
	if pong.PeerID != dir.ID() || pong.PeerChatAddr != dir.ChatAddr() {
		t.Fatalf("pong does not describe the server: %+v", pong)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		peer, ok := dir.Peer(requester)
		return ok && peer.Status == models.StatusOnline
	})

	peer, _ := dir.Peer(requester)
	if peer.Addr != "10.0.0.9:7040" || peer.ChatAddr != "10.0.0.9:7041" {
		t.Fatalf("unexpected requester addresses: %+v", peer)
	}
	if peer.LastSeen == nil || peer.LastSeen.Before(start) {
		t.Fatalf("expected last_seen >= handshake start, got %v", peer.LastSeen)
	}

	// Exactly one pong per ping: nothing else arrives before the read deadline.
	if err := conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	if extra, err := ReadRequest(conn); err == nil {
		t.Fatalf("expected a single pong, got extra %T", extra)
	}

	waitForCondition(t, time.Second, func() bool {
		return len(recorder.snapshot()) == 1
	})

	persisted, err := storage.LoadDirectory(dir.Path())
	if err != nil {
		t.Fatalf("load persisted directory: %v", err)
	}
	if _, ok := persisted.Peer(requester); !ok {
		t.Fatalf("expected requester in persisted directory")
	}

	event := recorder.snapshot()[0]
	if event.Direction != storage.DirectionInbound || event.Outcome != storage.OutcomeOK || event.PeerID != requester.String() {
		t.Fatalf("unexpected handshake event: %+v", event)
	}
}

func TestServerServesRepeatedPingsOnOneConnection(t *testing.T) {
	dir := newTestDirectory(t, "127.0.0.1:7040", "127.0.0.1:7041")
	server := startTestServer(t, dir, ServerOptions{})
	conn := dialTest(t, server.Addr().String())

	requester := models.NewPeerID()
	for i := 0; i < 3; i++ {
		if err := WriteRequest(conn, Ping{PeerID: requester, PeerAddr: "10.0.0.9:7040", PeerChatAddr: "10.0.0.9:7041"}); err != nil {
			t.Fatalf("write ping %d: %v", i, err)
		}
		if _, err := ReadRequest(conn); err != nil {
			t.Fatalf("read pong %d: %v", i, err)
		}
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return dir.Len() == 1
	})
}

func TestServerSkipsMalformedPayloadAndKeepsServing(t *testing.T) {
	dir := newTestDirectory(t, "127.0.0.1:7040", "127.0.0.1:7041")
	server := startTestServer(t, dir, ServerOptions{})

	conn := dialTest(t, server.Addr().String())
	if err := WriteFrame(conn, []byte(`{"method":"ping","peer_id":"not-an-id"}`)); err != nil {
		t.Fatalf("write malformed ping: %v", err)
	}
	if err := WriteRequest(conn, Message{PeerID: models.NewPeerID(), Text: "hi"}); err != nil {
		t.Fatalf("write unexpected message: %v", err)
	}

	requester := models.NewPeerID()
	if err := WriteRequest(conn, Ping{PeerID: requester, PeerAddr: "10.0.0.9:7040", PeerChatAddr: "10.0.0.9:7041"}); err != nil {
		t.Fatalf("write valid ping: %v", err)
	}
	reply, err := ReadRequest(conn)
	if err != nil {
		t.Fatalf("read pong after skipped payloads: %v", err)
	}
	if _, ok := reply.(Pong); !ok {
		t.Fatalf("expected Pong, got %T", reply)
	}

	other := dialTest(t, server.Addr().String())
	if err := WriteRequest(other, Ping{PeerID: models.NewPeerID(), PeerAddr: "10.0.0.8:7040", PeerChatAddr: "10.0.0.8:7041"}); err != nil {
		t.Fatalf("write ping on new connection: %v", err)
	}
	if _, err := ReadRequest(other); err != nil {
		t.Fatalf("server stopped serving new connections: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return dir.Len() == 2
	})
}

func TestServerClosesAfterRepeatedInvalidRequests(t *testing.T) {
	dir := newTestDirectory(t, "127.0.0.1:7040", "127.0.0.1:7041")
	server := startTestServer(t, dir, ServerOptions{MaxInvalidRequests: 2})

	conn := dialTest(t, server.Addr().String())
	for i := 0; i < 2; i++ {
		if err := WriteFrame(conn, []byte(`garbage`)); err != nil {
			t.Fatalf("write garbage %d: %v", i, err)
		}
	}

	_, err := ReadFrame(conn)
	if err == nil {
		t.Fatalf("expected server to close the connection")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("expected server to close the connection, read timed out instead")
	}
	if dir.Len() != 0 {
		t.Fatalf("expected no peers after invalid requests, got %d", dir.Len())
	}
}

func TestServerIgnoresPingWithLocalID(t *testing.T) {
	dir := newTestDirectory(t, "127.0.0.1:7040", "127.0.0.1:7041")
	recorder := &memoryRecorder{}
	server := startTestServer(t, dir, ServerOptions{Recorder: recorder})

	conn := dialTest(t, server.Addr().String())
	if err := WriteRequest(conn, Ping{PeerID: dir.ID(), PeerAddr: "10.0.0.9:7040", PeerChatAddr: "10.0.0.9:7041"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if _, err := ReadRequest(conn); err != nil {
		t.Fatalf("read pong: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		return len(recorder.snapshot()) == 1
	})
	if event := recorder.snapshot()[0]; event.Outcome != storage.OutcomeFailed {
		t.Fatalf("expected failed outcome for self ping, got %+v", event)
	}
	if dir.Len() != 0 {
		t.Fatalf("expected local id to stay out of peers, got %d", dir.Len())
	}
}

func TestServerCloseEndsLiveConnections(t *testing.T) {
	dir := newTestDirectory(t, "127.0.0.1:7040", "127.0.0.1:7041")
	server, err := Listen("127.0.0.1:0", ServerOptions{Directory: dir})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	conn := dialTest(t, server.Addr().String())
	if err := WriteRequest(conn, Ping{PeerID: models.NewPeerID(), PeerAddr: "10.0.0.9:7040", PeerChatAddr: "10.0.0.9:7041"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if _, err := ReadRequest(conn); err != nil {
		t.Fatalf("read pong: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- server.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return while a connection was idle")
	}

	if _, err := ReadFrame(conn); err == nil {
		t.Fatalf("expected live connection to be closed")
	}
	if _, ok := <-server.Errors(); ok {
		t.Fatalf("expected errors channel to be closed")
	}
}

func TestListenRequiresDirectory(t *testing.T) {
	if _, err := Listen("127.0.0.1:0", ServerOptions{}); err == nil {
		t.Fatalf("expected Listen without directory to fail")
	}
}

// brokenConn accepts deadlines but fails every write.
type brokenConn struct {
	net.Conn
}

func (brokenConn) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestAnswerPingWriteFailureLeavesDirectoryUntouched(t *testing.T) {
	dir := newTestDirectory(t, "127.0.0.1:7040", "127.0.0.1:7041")
	recorder := &memoryRecorder{}
	server := startTestServer(t, dir, ServerOptions{Recorder: recorder})

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	requester := models.NewPeerID()
	err := server.answerPing(brokenConn{Conn: local}, "10.0.0.9:5555", Ping{
		PeerID:       requester,
		PeerAddr:     "10.0.0.9:7040",
		PeerChatAddr: "10.0.0.9:7041",
	})
	if err == nil {
		t.Fatalf("expected the failed pong write to be returned")
	}

	if dir.Len() != 0 {
		t.Fatalf("expected no peer recorded after a failed pong, got %d", dir.Len())
	}
	if _, err := os.Stat(dir.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected directory file not to be written, stat err = %v", err)
	}

	events := recorder.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one handshake event, got %d", len(events))
	}
	if events[0].Outcome != storage.OutcomeFailed || events[0].PeerID != requester.String() {
		t.Fatalf("unexpected handshake event: %+v", events[0])
	}
}

func TestAnswerPingRecordsPersistFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	dir := storage.NewDirectory(models.NewPeerID(), "127.0.0.1:7040", "127.0.0.1:7041", filepath.Join(blocker, "peers.json"))
	recorder := &memoryRecorder{}
	server := startTestServer(t, dir, ServerOptions{Recorder: recorder})

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	replies := make(chan error, 1)
	go func() {
		_, err := ReadRequest(remote)
		replies <- err
	}()

	requester := models.NewPeerID()
	if err := server.answerPing(local, "10.0.0.9:5555", Ping{
		PeerID:       requester,
		PeerAddr:     "10.0.0.9:7040",
		PeerChatAddr: "10.0.0.9:7041",
	}); err != nil {
		t.Fatalf("answerPing failed: %v", err)
	}
	if err := <-replies; err != nil {
		t.Fatalf("read pong: %v", err)
	}

	if peer, ok := dir.Peer(requester); !ok || peer.Status != models.StatusOnline {
		t.Fatalf("expected requester online in memory, got %+v", peer)
	}

	events := recorder.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one handshake event, got %d", len(events))
	}
	if events[0].Outcome != storage.OutcomeOK {
		t.Fatalf("expected ok outcome, got %+v", events[0])
	}
	if !strings.HasPrefix(events[0].Detail, "persist directory: ") {
		t.Fatalf("expected persist failure in detail, got %q", events[0].Detail)
	}
}
