package main

import (
	"context"
	"os"
	"sync/atomic"

	"configcenter/internal/logging"
)

// watchShutdownSignals cancels on the first signal and only logs repeats.
// logger is resolved lazily since signals may arrive before the command has
// built one.
func watchShutdownSignals(logger func() *logging.Logger, shutdownCancel context.CancelFunc, signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool
	var loggedRepeat atomic.Bool

	logInfo := func(message string, sig os.Signal) {
		if logger == nil {
			return
		}
		current := logger()
		if current == nil {
			return
		}
		fields := map[string]string{}
		if sig != nil {
			fields["signal"] = sig.String()
		}
		current.Info(message, fields)
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					logInfo("shutdown signal received", sig)
					if shutdownCancel != nil {
						shutdownCancel()
					}
					continue
				}
				if loggedRepeat.CompareAndSwap(false, true) {
					logInfo("shutdown already in progress; ignoring signal", sig)
				}
			}
		}
	}()

	return func() {
		close(done)
	}
}
