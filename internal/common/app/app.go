package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// CreateContextWithShutdown returns a context that will report done when a SIGINT or SIGTERM is received
func CreateContextWithShutdown() context.Context {
	ctx, _ := CreateContextWithShutdownHook(context.Background(), nil)
	return ctx
}

// CreateContextWithShutdownHook returns a context that is cancelled on SIGINT or SIGTERM. Before cancelling,
// onSignal (if non-nil) is called with the signal received. The returned stop function releases the signal
// handler and cancels the context.
func CreateContextWithShutdownHook(parent context.Context, onSignal func(os.Signal)) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			if onSignal != nil {
				onSignal(sig)
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
