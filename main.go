package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"peerchat/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "peerchat: %v\n", err)
		stop()
		os.Exit(1)
	}
}
