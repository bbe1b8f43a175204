package ofborg

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the program is
// interrupted (i.e. receiving SIGINT or SIGTERM). Every long-running ofborg
// consumer uses this instead of wiring its own signal.Notify, so a worker
// mid-Consume gets one chance to finish its current message before a second
// signal kills the process outright.
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
