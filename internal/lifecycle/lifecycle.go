// Package lifecycle holds process-wide drain state read by the health handler.
package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// BeginShutdown marks the process as draining. It reports true only for the
// first caller so shutdown work runs once even if signals repeat.
func BeginShutdown() bool {
	return shuttingDown.CompareAndSwap(false, true)
}

// SetShuttingDown sets the drain flag directly. Tests use it to reset state.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining and should stop
// receiving new map traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
