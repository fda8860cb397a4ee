// Package main provides the shutter command: a headless-browser screenshot
// renderer with an HTTP surface, a one-shot render command and browser
// installation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gs := newGlobalState()
	if err := newRootCmd(gs).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(gs.stderr, errColor.Sprint(err))
		stop()
		os.Exit(1)
	}
}
