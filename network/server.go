package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerchat/storage"
)

// Recorder receives one event per completed or abandoned handshake.
type Recorder interface {
	RecordHandshake(event storage.HandshakeEvent) error
}

// ServerOptions configures the discovery server.
type ServerOptions struct {
	Directory *storage.Directory
	Recorder  Recorder
	Logger    *zap.Logger

	// MaxInvalidRequests closes a connection after this many consecutive skipped payloads.
	MaxInvalidRequests int
	// WriteTimeout bounds each pong write.
	WriteTimeout time.Duration
	Now          func() time.Time
}

func (o ServerOptions) withDefaults() ServerOptions {
	out := o
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.MaxInvalidRequests <= 0 {
		out.MaxInvalidRequests = DefaultMaxInvalidRequests
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = DefaultConnectionTimeout
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Server answers pings on the control address and records every requester.
type Server struct {
	listener net.Listener
	options  ServerOptions
	log      *zap.Logger

	errs chan error

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds address and starts the accept loop.
func Listen(address string, options ServerOptions) (*Server, error) {
	opts := options.withDefaults()
	if opts.Directory == nil {
		return nil, errors.New("network: server requires a directory")
	}

	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		options:  opts,
		log:      opts.Logger.With(zap.String("component", "discovery-server")),
		errs:     make(chan error, 16),
		conns:    make(map[net.Conn]struct{}),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Errors returns asynchronous server errors. Delivery is best effort.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting, closes live connections and waits for their handlers.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()

		s.connMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()

		s.wg.Wait()
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	select {
	case <-s.closed:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log := s.log.With(zap.String("addr", remote))
	log.Debug("connection accepted")

	invalid := 0
	for {
		req, err := ReadRequest(conn)
		if err != nil {
			if errors.Is(err, ErrMalformedRequest) {
				invalid++
				log.Warn("skipping malformed request", zap.Error(err), zap.Int("consecutive", invalid))
				if invalid >= s.options.MaxInvalidRequests {
					log.Warn("closing connection after repeated invalid requests")
					return
				}
				continue
			}
			if errors.Is(err, ErrConnectionAborted) || s.isClosed() {
				log.Debug("connection closed by peer")
				return
			}
			log.Warn("read request failed", zap.Error(err))
			s.reportError(fmt.Errorf("read request from %s: %w", remote, err))
			return
		}

		ping, ok := req.(Ping)
		if !ok {
			invalid++
			log.Warn("skipping unexpected request",
				zap.String("method", req.Method()),
				zap.Int("consecutive", invalid),
			)
			if invalid >= s.options.MaxInvalidRequests {
				log.Warn("closing connection after repeated invalid requests")
				return
			}
			continue
		}
		invalid = 0

		if err := s.answerPing(conn, remote, ping); err != nil {
			log.Warn("abandoning connection", zap.Error(err))
			return
		}
	}
}

// answerPing replies with a pong and only then records the requester.
func (s *Server) answerPing(conn net.Conn, remote string, ping Ping) error {
	dir := s.options.Directory
	log := s.log.With(zap.String("addr", remote), zap.String("peer_id", ping.PeerID.String()))

	pong := Pong{PeerID: dir.ID(), PeerChatAddr: dir.ChatAddr()}
	if err := conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout)); err != nil {
		return fmt.Errorf("set pong deadline: %w", err)
	}
	if err := WriteRequest(conn, pong); err != nil {
		s.record(storage.HandshakeEvent{
			PeerID:     ping.PeerID.String(),
			RemoteAddr: remote,
			Direction:  storage.DirectionInbound,
			Outcome:    storage.OutcomeFailed,
			Detail:     err.Error(),
		})
		return fmt.Errorf("write pong: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear pong deadline: %w", err)
	}

	peer, err := dir.MarkOnline(ping.PeerID, ping.PeerAddr, ping.PeerChatAddr, s.options.Now())
	if errors.Is(err, storage.ErrSelfPeer) {
		log.Warn("ignoring ping carrying the local id")
		s.record(storage.HandshakeEvent{
			PeerID:     ping.PeerID.String(),
			RemoteAddr: remote,
			Direction:  storage.DirectionInbound,
			Outcome:    storage.OutcomeFailed,
			Detail:     err.Error(),
		})
		return nil
	}

	event := storage.HandshakeEvent{
		PeerID:     ping.PeerID.String(),
		RemoteAddr: remote,
		Direction:  storage.DirectionInbound,
		Outcome:    storage.OutcomeOK,
	}
	if err != nil {
		// The in-memory record is already updated; only the disk copy lags.
		log.Error("persist directory", zap.Error(err))
		event.Detail = "persist directory: " + err.Error()
	}

	log.Info("peer online", zap.String("chat_addr", peer.ChatAddr))
	s.record(event)
	return nil
}

func (s *Server) record(event storage.HandshakeEvent) {
	if s.options.Recorder == nil {
		return
	}
	if err := s.options.Recorder.RecordHandshake(event); err != nil {
		s.log.Warn("record handshake event", zap.Error(err))
	}
}

func (s *Server) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	// Accept loop shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	select {
	case <-s.closed:
		return
	default:
	}

	select {
	case s.errs <- err:
	default:
	}
}
