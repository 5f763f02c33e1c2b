// Package main provides bead, a git-native issue tracker for agents.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinalkan/bead/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := cli.Run(ctx, os.Stdout, os.Stderr, os.Args)

	stop()
	os.Exit(exitCode)
}
