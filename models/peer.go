package models

import (
	"fmt"
	"time"
)

// Status is the last known reachability of a peer.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	status := Status(text)
	if !status.Valid() {
		return fmt.Errorf("invalid peer status %q", string(text))
	}
	*s = status
	return nil
}

// Peer represents one known remote process in the directory.
type Peer struct {
	ID       PeerID     `json:"id"`
	Addr     string     `json:"addr"`
	ChatAddr string     `json:"chat_addr"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// NewPeer returns an offline, never-seen record.
func NewPeer(id PeerID, addr, chatAddr string) Peer {
	return Peer{
		ID:       id,
		Addr:     addr,
		ChatAddr: chatAddr,
		Status:   StatusOffline,
	}
}

// MarkOnline sets the online status and last-seen stamp together.
func (p *Peer) MarkOnline(now time.Time) {
	seen := now
	p.Status = StatusOnline
	p.LastSeen = &seen
}
