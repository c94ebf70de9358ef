//go:build windows

package ui

import (
	"context"
	"os"
)

// WatchResize is a no-op on Windows, which has no SIGWINCH.
func WatchResize(ctx context.Context, f *os.File, r *Renderer) {}
