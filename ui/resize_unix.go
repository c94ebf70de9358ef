//go:build !windows

package ui

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchResize follows SIGWINCH until ctx is done, resizing r to the terminal
// behind f and repainting it each time.
func WatchResize(ctx context.Context, f *os.File, r *Renderer) {
	changes := make(chan os.Signal, 1)
	signal.Notify(changes, syscall.SIGWINCH)
	defer signal.Stop(changes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			r.Resize(TerminalSize(f))
			if err := r.Repaint(); err != nil {
				return
			}
		}
	}
}
