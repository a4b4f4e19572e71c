package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext is canceled by the first SIGINT or SIGTERM so a pass can
// stop at a batch boundary. A second signal exits the process at once.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx := interruptible(parent, sigs, logger, func() { os.Exit(exitFatal) })

	context.AfterFunc(parent, func() { signal.Stop(sigs) })

	return ctx
}

// interruptible cancels the returned context on the first value from sigs
// and calls force on the second.
func interruptible(parent context.Context, sigs <-chan os.Signal, logger *slog.Logger, force func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		select {
		case sig := <-sigs:
			logger.Info("shutting down; signal again to force", slog.String("signal", sig.String()))
			cancel()
		case <-parent.Done():
			cancel()
			return
		}

		select {
		case sig := <-sigs:
			logger.Warn("forced exit", slog.String("signal", sig.String()))
			force()
		case <-parent.Done():
		}
	}()

	return ctx
}
