package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"peerchat/models"
)

var (
	// ErrReadFailed indicates the directory file exists but could not be read.
	ErrReadFailed = errors.New("storage: read failed")
	// ErrWriteFailed indicates the directory file could not be written.
	ErrWriteFailed = errors.New("storage: write failed")
	// ErrInvalidData indicates the directory document is malformed.
	ErrInvalidData = errors.New("storage: invalid data")
	// ErrSelfPeer indicates an attempt to store the local identity as a peer.
	ErrSelfPeer = errors.New("storage: local id cannot be a peer")
)

// Directory is the local identity plus every known peer, bound to one JSON file.
type Directory struct {
	path string

	mu       sync.Mutex
	id       models.PeerID
	addr     string
	chatAddr string
	peers    map[models.PeerID]*models.Peer

	// saveMu orders snapshots so the newest one is always written last.
	saveMu sync.Mutex
}

type directoryDocument struct {
	ID       models.PeerID                 `json:"id"`
	Addr     string                        `json:"addr"`
	ChatAddr string                        `json:"chat_addr"`
	Peers    map[models.PeerID]models.Peer `json:"peers"`
}

// NewDirectory creates an empty directory for a local identity.
func NewDirectory(id models.PeerID, addr, chatAddr, path string) *Directory {
	return &Directory{
		path:     path,
		id:       id,
		addr:     addr,
		chatAddr: chatAddr,
		peers:    make(map[models.PeerID]*models.Peer),
	}
}

// LoadDirectory reads a directory document from path.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	var doc directoryDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if doc.ID.IsZero() {
		return nil, fmt.Errorf("%w: missing local id", ErrInvalidData)
	}

	dir := NewDirectory(doc.ID, doc.Addr, doc.ChatAddr, path)
	for key, peer := range doc.Peers {
		if key != peer.ID {
			return nil, fmt.Errorf("%w: peer key %s does not match record id %s", ErrInvalidData, key, peer.ID)
		}
		if key == doc.ID {
			return nil, fmt.Errorf("%w: local id listed as peer", ErrInvalidData)
		}
		if peer.Status == "" {
			peer.Status = models.StatusOffline
		}
		p := peer
		dir.peers[key] = &p
	}

	return dir, nil
}

// Path returns the bound persistence path.
func (d *Directory) Path() string {
	return d.path
}

// ID returns the local peer ID.
func (d *Directory) ID() models.PeerID {
	return d.id
}

// Addr returns the local control (discovery) address.
func (d *Directory) Addr() string {
	return d.addr
}

// ChatAddr returns the local chat address.
func (d *Directory) ChatAddr() string {
	return d.chatAddr
}

// PeerOrInsert returns the record for id, inserting an offline one seeded from defaults if absent.
//
// The returned pointer aliases directory state; callers must not retain it across goroutines.
func (d *Directory) PeerOrInsert(id models.PeerID, defaultAddr, defaultChatAddr string) (*models.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peerOrInsertLocked(id, defaultAddr, defaultChatAddr)
}

func (d *Directory) peerOrInsertLocked(id models.PeerID, defaultAddr, defaultChatAddr string) (*models.Peer, error) {
	if id == d.id {
		return nil, ErrSelfPeer
	}
	if peer, ok := d.peers[id]; ok {
		return peer, nil
	}
	peer := models.NewPeer(id, defaultAddr, defaultChatAddr)
	d.peers[id] = &peer
	return &peer, nil
}

// MarkOnline records a successful handshake with id and persists the directory.
//
// Addresses seed a new record only; an existing record keeps its stored addresses.
func (d *Directory) MarkOnline(id models.PeerID, addr, chatAddr string, now time.Time) (models.Peer, error) {
	d.mu.Lock()
	peer, err := d.peerOrInsertLocked(id, addr, chatAddr)
	if err != nil {
		d.mu.Unlock()
		return models.Peer{}, err
	}
	peer.MarkOnline(now)
	updated := *peer
	d.mu.Unlock()

	return updated, d.Save()
}

// Peer returns a copy of the record for id.
func (d *Directory) Peer(id models.PeerID) (models.Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	peer, ok := d.peers[id]
	if !ok {
		return models.Peer{}, false
	}
	return *peer, true
}

// Peers returns a snapshot of all records sorted by ID text.
func (d *Directory) Peers() []models.Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.Peer, 0, len(d.peers))
	for _, peer := range d.peers {
		out = append(out, *peer)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Len returns the number of known peers.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

// Save writes the whole directory to its bound path, replacing any previous document.
func (d *Directory) Save() error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	raw, err := json.MarshalIndent(d.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	raw = append(raw, '\n')

	if parent := filepath.Dir(d.path); parent != "" {
		if err := os.MkdirAll(parent, 0o700); err != nil {
			return fmt.Errorf("%w: create directory %q: %v", ErrWriteFailed, parent, err)
		}
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	return nil
}

func (d *Directory) snapshot() directoryDocument {
	d.mu.Lock()
	defer d.mu.Unlock()

	peers := make(map[models.PeerID]models.Peer, len(d.peers))
	for id, peer := range d.peers {
		peers[id] = *peer
	}
	return directoryDocument{
		ID:       d.id,
		Addr:     d.addr,
		ChatAddr: d.chatAddr,
		Peers:    peers,
	}
}
