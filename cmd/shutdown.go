package cmd

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
)

// shutdownContexts splits process shutdown in two stages. soft is cancelled
// by the first signal or when parent is done; components that accept work
// stop on it. hard is cancelled only by a second signal, so the stream can
// finish the current track. stop releases both.
func shutdownContexts(parent context.Context, sigs <-chan os.Signal, log *zap.Logger) (soft, hard context.Context, stop func()) {
	soft, cancelSoft := context.WithCancel(parent)
	hard, cancelHard := context.WithCancel(context.WithoutCancel(parent))

	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			log.Info("[Serve] finishing current track, signal again to stop now", zap.Stringer("signal", sig))
		case <-parent.Done():
		case <-quit:
			return
		}
		cancelSoft()

		select {
		case sig := <-sigs:
			log.Warn("[Serve] stopping immediately", zap.Stringer("signal", sig))
			cancelHard()
		case <-quit:
		}
	}()

	stop = sync.OnceFunc(func() {
		close(quit)
		cancelSoft()
		cancelHard()
	})
	return soft, hard, stop
}
