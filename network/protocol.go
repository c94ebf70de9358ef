package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"peerchat/models"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (64 KiB).
	MaxFrameSize = 64 * 1024
	// DefaultConnectionTimeout bounds TCP dial duration for outbound handshakes.
	DefaultConnectionTimeout = 10 * time.Second
	// DefaultMaxInvalidRequests closes a discovery connection after this many consecutive bad payloads.
	DefaultMaxInvalidRequests = 8
)

const (
	MethodPing    = "ping"
	MethodPong    = "pong"
	MethodMessage = "message"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("network: frame exceeds max size")
	// ErrConnectionAborted indicates the remote side closed before sending a frame.
	ErrConnectionAborted = errors.New("network: connection aborted")
	// ErrMalformedRequest indicates a payload that does not decode into a known request.
	ErrMalformedRequest = errors.New("network: malformed request")
	// ErrProtocolViolation indicates a well-formed request of an unexpected kind.
	ErrProtocolViolation = errors.New("network: protocol violation")
	// ErrUnreachable indicates an outbound connection could not be established.
	ErrUnreachable = errors.New("network: peer unreachable")
)

// Request is one of Ping, Pong or Message.
type Request interface {
	Method() string
	validate() error
}

// Ping opens a handshake and carries the requester's identity and addresses.
type Ping struct {
	PeerID       models.PeerID `json:"peer_id"`
	PeerAddr     string        `json:"peer_addr"`
	PeerChatAddr string        `json:"peer_chat_addr"`
}

// Pong answers a Ping with the responder's identity and chat address.
type Pong struct {
	PeerID       models.PeerID `json:"peer_id"`
	PeerChatAddr string        `json:"peer_chat_addr"`
}

// Message is one chat line attributed to its author.
type Message struct {
	PeerID models.PeerID `json:"peer_id"`
	Text   string        `json:"text"`
}

func (Ping) Method() string    { return MethodPing }
func (Pong) Method() string    { return MethodPong }
func (Message) Method() string { return MethodMessage }

func (p Ping) validate() error {
	if p.PeerID.IsZero() {
		return errors.New("peer_id is required")
	}
	if err := validateAddr(p.PeerAddr); err != nil {
		return fmt.Errorf("peer_addr: %w", err)
	}
	if err := validateAddr(p.PeerChatAddr); err != nil {
		return fmt.Errorf("peer_chat_addr: %w", err)
	}
	return nil
}

func (p Pong) validate() error {
	if p.PeerID.IsZero() {
		return errors.New("peer_id is required")
	}
	if err := validateAddr(p.PeerChatAddr); err != nil {
		return fmt.Errorf("peer_chat_addr: %w", err)
	}
	return nil
}

func (m Message) validate() error {
	if m.PeerID.IsZero() {
		return errors.New("peer_id is required")
	}
	return nil
}

func validateAddr(addr string) error {
	if addr == "" {
		return errors.New("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	return nil
}

// envelope identifies the request variant.
type envelope struct {
	Method string `json:"method"`
}

// Encode marshals a request with its method discriminator.
func Encode(req Request) ([]byte, error) {
	var tagged any
	switch r := req.(type) {
	case Ping:
		tagged = struct {
			Method string `json:"method"`
			Ping
		}{MethodPing, r}
	case Pong:
		tagged = struct {
			Method string `json:"method"`
			Pong
		}{MethodPong, r}
	case Message:
		tagged = struct {
			Method string `json:"method"`
			Message
		}{MethodMessage, r}
	default:
		return nil, fmt.Errorf("%w: unsupported request type %T", ErrMalformedRequest, req)
	}

	payload, err := json.Marshal(tagged)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", req.Method(), err)
	}
	return payload, nil
}

// Decode parses a payload into the variant named by its method field.
func Decode(payload []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrMalformedRequest, err)
	}

	var req Request
	switch env.Method {
	case MethodPing:
		var ping Ping
		if err := json.Unmarshal(payload, &ping); err != nil {
			return nil, fmt.Errorf("%w: decode ping: %v", ErrMalformedRequest, err)
		}
		req = ping
	case MethodPong:
		var pong Pong
		if err := json.Unmarshal(payload, &pong); err != nil {
			return nil, fmt.Errorf("%w: decode pong: %v", ErrMalformedRequest, err)
		}
		req = pong
	case MethodMessage:
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: decode message: %v", ErrMalformedRequest, err)
		}
		req = msg
	case "":
		return nil, fmt.Errorf("%w: missing method", ErrMalformedRequest)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrMalformedRequest, env.Method)
	}

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRequest, env.Method, err)
	}
	return req, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
//
// A clean EOF before the first header byte reports ErrConnectionAborted.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionAborted
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// WriteRequest encodes req and writes it as one frame.
func WriteRequest(w io.Writer, req Request) error {
	payload, err := Encode(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadRequest reads one frame and decodes it.
//
// Framing failures are returned unwrapped from ReadFrame; payload failures wrap ErrMalformedRequest.
func ReadRequest(r io.Reader) (Request, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}
