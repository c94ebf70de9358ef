package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"peerchat/models"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_peerchat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultRefreshInterval is the background peer discovery interval.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

const (
	txtPeerID         = "peer_id"
	txtChatAddr       = "chat_addr"
	txtVersion        = "version"
	txtKeyFingerprint = "key_fingerprint"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls mDNS broadcaster and scanner behavior.
type Config struct {
	Service         string
	Domain          string
	Version         int
	RefreshInterval time.Duration
	ScanTimeout     time.Duration

	SelfID models.PeerID
	// Instance is the advertised instance name; the peer id text when empty.
	Instance string
	// ControlAddr supplies the advertised port.
	ControlAddr    string
	ChatAddr       string
	KeyFingerprint string

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if strings.TrimSpace(out.Instance) == "" {
		out.Instance = out.SelfID.String()
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForBroadcast() (int, error) {
	if c.SelfID.IsZero() {
		return 0, errors.New("self peer ID is required")
	}
	_, rawPort, err := net.SplitHostPort(c.ControlAddr)
	if err != nil {
		return 0, fmt.Errorf("control address %q: %w", c.ControlAddr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("control address %q has no usable port", c.ControlAddr)
	}
	if _, _, err := net.SplitHostPort(c.ChatAddr); err != nil {
		return 0, fmt.Errorf("chat address %q: %w", c.ChatAddr, err)
	}
	return port, nil
}

func (c Config) validateForScan() error {
	if c.SelfID.IsZero() {
		return errors.New("self peer ID is required")
	}
	return nil
}

// Broadcaster advertises local peer presence via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers and starts mDNS broadcast.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	port, err := cfg.validateForBroadcast()
	if err != nil {
		return nil, err
	}

	txt := []string{
		txtPeerID + "=" + cfg.SelfID.String(),
		txtChatAddr + "=" + cfg.ChatAddr,
		txtVersion + "=" + strconv.Itoa(cfg.Version),
	}
	if cfg.KeyFingerprint != "" {
		txt = append(txt, txtKeyFingerprint+"="+cfg.KeyFingerprint)
	}

	server, err := cfg.registerFn(cfg.Instance, cfg.Service, cfg.Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// Service coordinates mDNS broadcast and scanning.
type Service struct {
	Broadcaster *Broadcaster
	Scanner     *PeerScanner
}

// Start starts broadcaster and scanner using one config.
func Start(config Config) (*Service, error) {
	cfg := config.withDefaults()

	broadcaster, err := StartBroadcaster(cfg)
	if err != nil {
		return nil, err
	}

	scanner, err := NewPeerScanner(cfg)
	if err != nil {
		broadcaster.Stop()
		return nil, err
	}
	if err := scanner.Start(); err != nil {
		broadcaster.Stop()
		return nil, err
	}

	return &Service{
		Broadcaster: broadcaster,
		Scanner:     scanner,
	}, nil
}

// Stop stops scanner and broadcaster.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.Scanner != nil {
		s.Scanner.Stop()
	}
	if s.Broadcaster != nil {
		s.Broadcaster.Stop()
	}
}

// Scan browses for one scan window and returns the peers seen, excluding self.
func Scan(ctx context.Context, config Config) ([]DiscoveredPeer, error) {
	scanner, err := NewPeerScanner(config)
	if err != nil {
		return nil, err
	}

	found, err := scanner.scanOnce(ctx, ctx)
	if err != nil {
		return nil, err
	}
	scanner.applySnapshot(found)
	return scanner.ListPeers(), nil
}
