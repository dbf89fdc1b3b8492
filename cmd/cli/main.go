// Package main is the entry point for the premiumctl operator CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/premium-engine/cmd/cli/cmd"
)

func main() {
	// Ctrl-C stops a long repair between policies
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
