// Package main is the entry point for the admin CLI, which runs one-off
// maintenance tasks against the engine's stores.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		os.Exit(1)
	}
}
