package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPeerID indicates peer ID text is not in canonical 8-4-4-4-12 form.
var ErrInvalidPeerID = errors.New("models: invalid peer id")

var peerIDGroupLengths = [5]int{8, 4, 4, 4, 12}

// PeerID is a random 128-bit identifier with version 4 / RFC 4122 variant bits.
type PeerID uuid.UUID

// NewPeerID generates a fresh random peer ID.
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// ParsePeerID parses the canonical hyphenated hex form.
//
// Braced, URN and unhyphenated forms accepted by uuid.Parse are rejected.
func ParsePeerID(text string) (PeerID, error) {
	groups := strings.Split(text, "-")
	if len(groups) != len(peerIDGroupLengths) {
		return PeerID{}, fmt.Errorf("%w: expected %d hyphen-separated groups, got %d", ErrInvalidPeerID, len(peerIDGroupLengths), len(groups))
	}
	for i, group := range groups {
		if len(group) != peerIDGroupLengths[i] {
			return PeerID{}, fmt.Errorf("%w: group %d has length %d, want %d", ErrInvalidPeerID, i+1, len(group), peerIDGroupLengths[i])
		}
		if _, err := hex.DecodeString(group); err != nil {
			return PeerID{}, fmt.Errorf("%w: group %d is not hexadecimal", ErrInvalidPeerID, i+1)
		}
	}

	parsed, err := uuid.Parse(text)
	if err != nil {
		return PeerID{}, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	return PeerID(parsed), nil
}

// String returns the lowercase canonical text form.
func (id PeerID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the ID is unset.
func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
