package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// notifyInterrupt returns a context cancelled by the first SIGINT or SIGTERM,
// letting running machines shut down. A second signal exits immediately.
func notifyInterrupt(parent context.Context, log logrus.FieldLogger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		select {
		case <-sigChan:
		case <-done:
			return
		}

		log.Warn("Received interrupt signal, stopping machines (interrupt again to force exit)")
		cancel()

		select {
		case <-sigChan:
			log.Warn("Received second interrupt signal, exiting")
			os.Exit(exitInterrupted)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}
