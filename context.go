// Package remoteclient ties together the components that back the GRF
// asset server: archive parsing, the overlay index, caches, and the
// orchestrator. Subpackages under internal/ implement the individual
// components described by the specification; this package only holds the
// small cross-cutting helpers every binary built on top of it needs.
package remoteclient

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the program is
// interrupted (i.e. receiving SIGINT or SIGTERM).
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
