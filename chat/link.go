package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerchat/models"
	"peerchat/network"
)

const (
	// PeerQueueSize is the per-peer outbound buffer. A full buffer drops lines for that peer only.
	PeerQueueSize = 16
	// DefaultWriteTimeout bounds each frame written to a peer.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultDialTimeout bounds each startup dial to a peer's chat address.
	DefaultDialTimeout = 2 * time.Second
)

var (
	// ErrLinkClosed indicates a send on a link that has already failed or been closed.
	ErrLinkClosed = errors.New("chat: peer link closed")
	// ErrQueueFull indicates the peer's outbound buffer is full.
	ErrQueueFull = errors.New("chat: peer queue full")
)

// peerLink owns one outbound chat connection and the goroutine that writes to it.
type peerLink struct {
	peer         models.Peer
	conn         net.Conn
	writeTimeout time.Duration
	log          *zap.Logger

	queue chan network.Message

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

func dialLink(ctx context.Context, peer models.Peer, dialTimeout, writeTimeout time.Duration, queueSize int, log *zap.Logger) (*peerLink, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", peer.ChatAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s at %q: %w", peer.ID, peer.ChatAddr, err)
	}
	return newPeerLink(peer, conn, writeTimeout, queueSize, log), nil
}

func newPeerLink(peer models.Peer, conn net.Conn, writeTimeout time.Duration, queueSize int, log *zap.Logger) *peerLink {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if queueSize <= 0 {
		queueSize = PeerQueueSize
	}
	link := &peerLink{
		peer:         peer,
		conn:         conn,
		writeTimeout: writeTimeout,
		log:          log.With(zap.String("peer_id", peer.ID.String()), zap.String("addr", peer.ChatAddr)),
		queue:        make(chan network.Message, queueSize),
		closed:       make(chan struct{}),
	}
	go link.writeLoop()
	return link
}

// Send queues msg without blocking.
func (l *peerLink) Send(msg network.Message) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}

	select {
	case l.queue <- msg:
		return nil
	case <-l.closed:
		return ErrLinkClosed
	default:
		return ErrQueueFull
	}
}

// Done is closed once the link stops writing.
func (l *peerLink) Done() <-chan struct{} {
	return l.closed
}

// LastError returns the error that closed the link, if any.
func (l *peerLink) LastError() error {
	l.errMu.RLock()
	defer l.errMu.RUnlock()
	return l.closeErr
}

// Close stops the writer and closes the connection.
func (l *peerLink) Close() error {
	l.closeWithError(nil)
	return nil
}

func (l *peerLink) writeLoop() {
	for {
		select {
		case <-l.closed:
			return
		case msg := <-l.queue:
			if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
				l.closeWithError(fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := network.WriteRequest(l.conn, msg); err != nil {
				l.closeWithError(fmt.Errorf("write message: %w", err))
				return
			}
		}
	}
}

func (l *peerLink) closeWithError(err error) {
	l.closeOnce.Do(func() {
		l.errMu.Lock()
		l.closeErr = err
		l.errMu.Unlock()

		if err != nil {
			l.log.Warn("peer link dropped", zap.Error(err))
		}
		_ = l.conn.Close()
		close(l.closed)
	})
}
