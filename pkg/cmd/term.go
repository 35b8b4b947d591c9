package cmd

import (
	"context"
	"os/signal"
	"syscall"
)

// TermSignalAwaiter completes on SIGTERM or SIGINT, the hub then stops every other process.
func TermSignalAwaiter(ctx context.Context) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	<-signalCtx.Done()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
