package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"peerchat/models"
	"peerchat/storage"
)

// ClientOptions configures one outbound handshake.
type ClientOptions struct {
	// ConnectionTimeout bounds each dial attempt and the wait for the pong.
	ConnectionTimeout time.Duration
	// ConnectRetries is the number of extra dial attempts after the first failure.
	ConnectRetries int
	Recorder       Recorder
	Logger         *zap.Logger
	Now            func() time.Time
}

func (o ClientOptions) withDefaults() ClientOptions {
	out := o
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = DefaultConnectionTimeout
	}
	if out.ConnectRetries < 0 {
		out.ConnectRetries = 0
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Outcome describes a completed handshake.
type Outcome struct {
	// Peer is the responder's record after the update.
	Peer models.Peer
	// Address is the control address that was dialed.
	Address string
}

// Connect pings the peer at address, waits for its pong and records it in dir.
func Connect(ctx context.Context, address string, dir *storage.Directory, options ClientOptions) (Outcome, error) {
	if dir == nil {
		return Outcome{}, errors.New("network: connect requires a directory")
	}
	opts := options.withDefaults()
	log := opts.Logger.With(zap.String("component", "discovery-client"), zap.String("addr", address))

	outcome, err := connect(ctx, address, dir, opts, log)

	event := storage.HandshakeEvent{
		RemoteAddr: address,
		Direction:  storage.DirectionOutbound,
		Outcome:    storage.OutcomeOK,
	}
	if !outcome.Peer.ID.IsZero() {
		event.PeerID = outcome.Peer.ID.String()
	}
	if err != nil {
		event.Outcome = storage.OutcomeFailed
		event.Detail = err.Error()
	}
	if opts.Recorder != nil {
		if recErr := opts.Recorder.RecordHandshake(event); recErr != nil {
			log.Warn("record handshake event", zap.Error(recErr))
		}
	}

	return outcome, err
}

func connect(ctx context.Context, address string, dir *storage.Directory, opts ClientOptions, log *zap.Logger) (Outcome, error) {
	conn, err := dial(ctx, address, opts, log)
	if err != nil {
		return Outcome{}, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(opts.ConnectionTimeout)); err != nil {
		return Outcome{}, fmt.Errorf("set handshake deadline: %w", err)
	}

	ping := Ping{
		PeerID:       dir.ID(),
		PeerAddr:     dir.Addr(),
		PeerChatAddr: dir.ChatAddr(),
	}
	if err := WriteRequest(conn, ping); err != nil {
		return Outcome{}, fmt.Errorf("send ping: %w", err)
	}

	reply, err := ReadRequest(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		if errors.Is(err, ErrConnectionAborted) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("read pong: %w", err)
	}

	pong, ok := reply.(Pong)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: expected %q, got %q", ErrProtocolViolation, MethodPong, reply.Method())
	}
	if pong.PeerID == dir.ID() {
		return Outcome{}, fmt.Errorf("%w: pong carries the local id", ErrProtocolViolation)
	}

	peer, err := dir.MarkOnline(pong.PeerID, address, pong.PeerChatAddr, opts.Now())
	outcome := Outcome{Peer: peer, Address: address}
	if err != nil {
		return outcome, fmt.Errorf("record peer %s: %w", pong.PeerID, err)
	}

	log.Info("peer online",
		zap.String("peer_id", peer.ID.String()),
		zap.String("chat_addr", peer.ChatAddr),
	)
	return outcome, nil
}

// dial opens the control connection, retrying with exponential backoff when configured.
func dial(ctx context.Context, address string, opts ClientOptions, log *zap.Logger) (net.Conn, error) {
	dialer := net.Dialer{Timeout: opts.ConnectionTimeout}

	var conn net.Conn
	attempt := 0
	operation := func() error {
		attempt++
		c, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			log.Debug("dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if opts.ConnectRetries > 0 {
		policy = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(opts.ConnectRetries))
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("%w: dial %q after %d attempt(s): %w", ErrUnreachable, address, attempt, err)
	}
	return conn, nil
}
