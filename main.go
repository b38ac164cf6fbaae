package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/checkout-cli/cmd"
)

func main() {
	// Interrupts cancel the context; every long-running operation threads it
	// through, so a Ctrl-C lands as a clean partial result, not a crash.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
