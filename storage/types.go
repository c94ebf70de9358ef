package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested file or row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	// DirectionInbound marks a handshake served by the discovery server.
	DirectionInbound = "inbound"
	// DirectionOutbound marks a handshake initiated by the discovery client.
	DirectionOutbound = "outbound"
)

const (
	// OutcomeOK marks a handshake that updated the directory.
	OutcomeOK = "ok"
	// OutcomeFailed marks a handshake abandoned before the directory was updated.
	OutcomeFailed = "failed"
)

// HandshakeEvent is one audited ping/pong exchange.
type HandshakeEvent struct {
	ID         int64
	PeerID     string
	RemoteAddr string
	Direction  string
	Outcome    string
	Detail     string
	Timestamp  int64
}

// HandshakeEventFilter narrows ListHandshakeEvents results.
type HandshakeEventFilter struct {
	PeerID    string
	Direction string
	Outcome   string
	Limit     int
	Offset    int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateDirection(direction string) error {
	switch direction {
	case DirectionInbound, DirectionOutbound:
		return nil
	default:
		return fmt.Errorf("invalid handshake direction %q", direction)
	}
}

func validateOutcome(outcome string) error {
	switch outcome {
	case OutcomeOK, OutcomeFailed:
		return nil
	default:
		return fmt.Errorf("invalid handshake outcome %q", outcome)
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
