// Package osthread exposes OS thread identity and liveness for goroutines
// pinned with runtime.LockOSThread.
//
// On platforms without support Current returns 0 and every thread is
// reported alive.
package osthread
