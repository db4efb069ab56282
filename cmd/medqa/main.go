// Package main is the entry point for the medqa service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/medkb-io/medqa/internal/qa"
)

func main() {
	ctx := setupSignalContext()

	if err := qa.NewApp().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "medqa: %v\n", err)
		os.Exit(1)
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
// A second signal forces immediate exit.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
