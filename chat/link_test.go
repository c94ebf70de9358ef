package chat

import (
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"peerchat/models"
	"peerchat/network"
)

func TestPeerLinkDropsLinesWhenQueueIsFull(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	peer := models.NewPeer(models.NewPeerID(), "127.0.0.1:1", "127.0.0.1:2")
	link := newPeerLink(peer, local, 5*time.Second, 1, zap.NewNop())
	defer link.Close()

	author := models.NewPeerID()
	if err := link.Send(network.Message{PeerID: author, Text: "in flight"}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(link.queue) == 0
	})

	if err := link.Send(network.Message{PeerID: author, Text: "queued"}); err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if err := link.Send(network.Message{PeerID: author, Text: "dropped"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPeerLinkClosesAfterWriteTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	peer := models.NewPeer(models.NewPeerID(), "127.0.0.1:1", "127.0.0.1:2")
	link := newPeerLink(peer, local, 50*time.Millisecond, 4, zap.NewNop())

	if err := link.Send(network.Message{PeerID: models.NewPeerID(), Text: "never read"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case <-link.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected link to close after write timeout")
	}

	var netErr net.Error
	if !errors.As(link.LastError(), &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout error, got %v", link.LastError())
	}
	if err := link.Send(network.Message{PeerID: models.NewPeerID(), Text: "after close"}); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}
}

func TestPeerLinkWritesFrames(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	peer := models.NewPeer(models.NewPeerID(), "127.0.0.1:1", "127.0.0.1:2")
	link := newPeerLink(peer, local, time.Second, 4, zap.NewNop())
	defer link.Close()

	author := models.NewPeerID()
	if err := link.Send(network.Message{PeerID: author, Text: "hello"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if err := remote.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	req, err := network.ReadRequest(remote)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	msg, ok := req.(network.Message)
	if !ok || msg.PeerID != author || msg.Text != "hello" {
		t.Fatalf("unexpected request %#v", req)
	}
}
