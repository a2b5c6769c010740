// Package signal cancels command contexts on termination signals.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clog "github.com/xrsl/skipper/pkg/log"
)

// WithTermination returns a context that is cancelled when SIGINT or SIGTERM
// arrives. The tracer stop protocol sends SIGTERM to observers, so the
// in-process inotify observer relies on this to flush and exit cleanly.
func WithTermination(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			clog.Debug("received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
