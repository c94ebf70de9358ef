package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"peerchat/network"
	"peerchat/storage"
)

// maxLineLength keeps an encoded message inside one frame even when every
// byte needs a six-byte JSON escape. Longer input lines are cut into pieces.
const maxLineLength = network.MaxFrameSize / 8

// Consumer drains the relay queue. ui.Renderer is the production consumer.
type Consumer interface {
	Run(ctx context.Context, messages <-chan network.Message) error
}

// HubOptions configures a chat session.
type HubOptions struct {
	Directory *storage.Directory
	Consumer  Consumer
	Logger    *zap.Logger

	WriteTimeout  time.Duration
	DialTimeout   time.Duration
	RelayCapacity int
	PeerQueueSize int

	// Listener replaces binding the directory's chat address when set.
	Listener net.Listener
}

func (o HubOptions) withDefaults() HubOptions {
	out := o
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = DefaultWriteTimeout
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.PeerQueueSize <= 0 {
		out.PeerQueueSize = PeerQueueSize
	}
	return out
}

// Hub runs the input reader, the remote listener and the consumer around one relay queue.
type Hub struct {
	options HubOptions
	log     *zap.Logger
	relay   *Relay

	linksMu sync.Mutex
	links   []*peerLink
}

// NewHub validates options and prepares the relay queue.
func NewHub(options HubOptions) (*Hub, error) {
	opts := options.withDefaults()
	if opts.Directory == nil {
		return nil, errors.New("chat: hub requires a directory")
	}
	if opts.Consumer == nil {
		return nil, errors.New("chat: hub requires a consumer")
	}
	return &Hub{
		options: opts,
		log:     opts.Logger.With(zap.String("component", "chat")),
		relay:   NewRelay(opts.RelayCapacity),
	}, nil
}

// Run blocks until ctx is done or an actor fails. Failing to bind the chat address is returned immediately.
func (h *Hub) Run(ctx context.Context, input io.Reader) error {
	listener := h.options.Listener
	if listener == nil {
		address := h.options.Directory.ChatAddr()
		l, err := net.Listen("tcp", address)
		if err != nil {
			return fmt.Errorf("bind chat address %q: %w", address, err)
		}
		listener = l
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.listen(gctx, listener)
	})
	g.Go(func() error {
		return h.options.Consumer.Run(gctx, h.relay.Messages())
	})
	g.Go(func() error {
		return h.readInput(gctx, input)
	})

	err := g.Wait()
	h.closeLinks()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listen accepts remote chat connections and publishes every message they carry.
func (h *Hub) listen(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()
	defer listener.Close()

	h.log.Info("chat listener ready", zap.String("addr", listener.Addr().String()))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			h.log.Warn("accept chat connection", zap.Error(err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			h.serveConn(ctx, conn)
		}()
	}
}

func (h *Hub) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	log := h.log.With(zap.String("addr", conn.RemoteAddr().String()))
	for {
		req, err := network.ReadRequest(conn)
		if err != nil {
			if errors.Is(err, network.ErrConnectionAborted) || ctx.Err() != nil {
				log.Debug("chat connection closed")
			} else {
				log.Warn("chat connection ended", zap.Error(err))
			}
			return
		}

		msg, ok := req.(network.Message)
		if !ok {
			log.Warn("chat connection sent unexpected request", zap.String("method", req.Method()))
			return
		}
		if err := h.relay.Publish(ctx, msg); err != nil {
			return
		}
	}
}

// readInput dials every known peer, then turns each non-empty input line into a message.
func (h *Hub) readInput(ctx context.Context, input io.Reader) error {
	h.openLinks(ctx)

	lines := make(chan string)
	readErr := make(chan error, 1)
	// Reads cannot be interrupted; the goroutine exits once input closes.
	go func() {
		defer close(lines)
		reader := bufio.NewReader(input)
		for {
			line, err := readLine(reader, maxLineLength)
			if line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	local := h.options.Directory.ID()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						h.log.Warn("stopped reading input", zap.Error(err))
					}
				default:
				}
				h.log.Debug("input closed")
				return nil
			}

			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			msg := network.Message{PeerID: local, Text: text}
			if err := h.relay.Publish(ctx, msg); err != nil {
				return nil
			}
			h.fanOut(msg)
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// limit bytes comes back in pieces, each cut on a rune boundary.
func readLine(reader *bufio.Reader, limit int) (string, error) {
	var b strings.Builder
	for {
		r, _, err := reader.ReadRune()
		if err != nil {
			return b.String(), err
		}
		if r == '\n' {
			return strings.TrimSuffix(b.String(), "\r"), nil
		}
		b.WriteRune(r)
		if b.Len()+utf8.UTFMax > limit {
			return b.String(), nil
		}
	}
}

func (h *Hub) openLinks(ctx context.Context) {
	peers := h.options.Directory.Peers()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	links := make([]*peerLink, 0, len(peers))
	for _, peer := range peers {
		if peer.ChatAddr == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := dialLink(ctx, peer, h.options.DialTimeout, h.options.WriteTimeout, h.options.PeerQueueSize, h.log)
			if err != nil {
				h.log.Info("skipping unreachable peer",
					zap.String("peer_id", peer.ID.String()),
					zap.String("addr", peer.ChatAddr),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			links = append(links, link)
			mu.Unlock()
		}()
	}
	wg.Wait()

	h.linksMu.Lock()
	h.links = append(h.links, links...)
	h.linksMu.Unlock()

	h.log.Info("chat links open", zap.Int("peers", len(links)))
}

// fanOut hands msg to every live link without waiting on any of them.
func (h *Hub) fanOut(msg network.Message) {
	h.linksMu.Lock()
	defer h.linksMu.Unlock()

	live := h.links[:0]
	for _, link := range h.links {
		err := link.Send(msg)
		switch {
		case errors.Is(err, ErrLinkClosed):
			continue
		case errors.Is(err, ErrQueueFull):
			link.log.Warn("peer queue full, dropping line")
		}
		live = append(live, link)
	}
	for i := len(live); i < len(h.links); i++ {
		h.links[i] = nil
	}
	h.links = live
}

// LinkCount reports the number of live outbound links.
func (h *Hub) LinkCount() int {
	h.linksMu.Lock()
	defer h.linksMu.Unlock()

	count := 0
	for _, link := range h.links {
		select {
		case <-link.Done():
		default:
			count++
		}
	}
	return count
}

func (h *Hub) closeLinks() {
	h.linksMu.Lock()
	links := h.links
	h.links = nil
	h.linksMu.Unlock()

	for _, link := range links {
		_ = link.Close()
	}
}
