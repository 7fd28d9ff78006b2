// Package sigctx gives the real compiler / real build-script child
// processes a canceled context on SIGINT/SIGTERM, so a wrapper interrupted
// mid-build doesn't orphan its child process tree. Adapted from the
// teacher's root-level context.go (InterruptibleContext).
package sigctx

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Interruptible returns a context canceled on SIGINT or SIGTERM.
func Interruptible() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Stop(sig)
		cancel()
	}()
	return ctx, cancel
}
