package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"peerchat/network"
)

const (
	// Header is the title shown on the top row.
	Header = "p2p / chat"
	// Prompt is drawn on the bottom row.
	Prompt = "> "

	clearScreen  = "\x1b[2J"
	cursorHome   = "\x1b[H"
	reverseVideo = "\x1b[7m"
	resetStyle   = "\x1b[0m"
)

// Renderer repaints the chat screen from a newest-first history.
type Renderer struct {
	out io.Writer

	mu      sync.Mutex
	width   int
	height  int
	history []network.Message
}

// NewRenderer returns a renderer for a width x height screen.
func NewRenderer(out io.Writer, width, height int) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Renderer{
		out:     out,
		width:   width,
		height:  height,
		history: make([]network.Message, 0, historyCap(height)),
	}
}

// historyCap leaves one row for the header and one for the prompt.
func historyCap(height int) int {
	if height <= 2 {
		return 0
	}
	return height - 2
}

// Push adds msg as the newest entry and evicts the oldest beyond capacity.
func (r *Renderer) Push(msg network.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := historyCap(r.height)
	if limit == 0 {
		r.history = r.history[:0]
		return
	}

	r.history = append(r.history, network.Message{})
	copy(r.history[1:], r.history[:len(r.history)-1])
	r.history[0] = msg
	if len(r.history) > limit {
		r.history = r.history[:limit]
	}
}

// History returns the retained messages, newest first.
func (r *Renderer) History() []network.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]network.Message(nil), r.history...)
}

// Resize changes the screen size; the history shrinks if the new height is smaller.
func (r *Renderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if width > 0 {
		r.width = width
	}
	if height > 0 {
		r.height = height
	}
	if limit := historyCap(r.height); len(r.history) > limit {
		r.history = r.history[:limit]
	}
}

// Repaint clears the screen and draws header, history and prompt.
func (r *Renderer) Repaint() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := io.WriteString(r.out, r.frameLocked()); err != nil {
		return fmt.Errorf("repaint: %w", err)
	}
	return nil
}

// Run consumes messages until the channel closes or ctx is done, repainting after each one.
func (r *Renderer) Run(ctx context.Context, messages <-chan network.Message) error {
	if err := r.Repaint(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.Push(msg)
			if err := r.Repaint(); err != nil {
				return err
			}
		}
	}
}

// frameLocked places every row with an absolute cursor move: header on row 1,
// history on rows 2..height-1 with the newest right above the prompt on row height.
func (r *Renderer) frameLocked() string {
	var b strings.Builder

	b.WriteString(clearScreen)
	b.WriteString(cursorHome)
	b.WriteString(moveTo(1))
	b.WriteString(reverseVideo)
	b.WriteString(centered(Header, r.width))
	b.WriteString(resetStyle)

	for i, msg := range r.history {
		b.WriteString(moveTo(r.height - 1 - i))
		b.WriteString(truncate(FormatLine(msg), r.width))
	}

	b.WriteString(moveTo(r.height))
	b.WriteString(Prompt)
	return b.String()
}

func moveTo(row int) string {
	return fmt.Sprintf("\x1b[%d;1H", row)
}

// FormatLine renders one message as "<peer id>: <text>". Control characters
// in the text become spaces so a message always occupies a single row.
func FormatLine(msg network.Message) string {
	return msg.PeerID.String() + ": " + strings.Map(printable, msg.Text)
}

func printable(r rune) rune {
	if unicode.IsControl(r) {
		return ' '
	}
	return r
}

func centered(text string, width int) string {
	runes := []rune(text)
	if len(runes) >= width {
		return string(runes[:width])
	}
	left := (width - len(runes)) / 2
	right := width - len(runes) - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}

func truncate(line string, width int) string {
	runes := []rune(line)
	if len(runes) <= width {
		return line
	}
	return string(runes[:width])
}
