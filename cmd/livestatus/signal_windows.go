//go:build windows

package main

import (
	"os"
	"os/signal"
)

// shutdownSignals delivers os.Interrupt; the runtime maps CTRL_BREAK and
// console close to it.
func shutdownSignals() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}

// reloadSignals never fires on Windows; config reload relies on the watcher.
func reloadSignals() <-chan os.Signal {
	return make(chan os.Signal)
}
