//go:build !windows

// Package shutdown subscribes the orchestrator to OS termination signals so
// session stats and log files are flushed before exit.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// Notify forwards interrupt and termination signals to ch.
func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
