package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandler returns a context that is cancelled when a shutdown
// signal is received, so a running scan stops handing out work and returns.
func setupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	// SIGINT (Ctrl+C), SIGTERM (termination), and SIGPIPE (broken pipe)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "\nReceived signal: %v\n", sig)
			if sig != syscall.SIGPIPE {
				fmt.Fprintf(os.Stderr, "Stopping scan, files already written are left consistent...\n")
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
