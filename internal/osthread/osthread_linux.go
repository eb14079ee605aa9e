//go:build linux

package osthread

import "golang.org/x/sys/unix"

// Supported reports whether thread ids and liveness are available.
func Supported() bool { return true }

// Current returns the id of the calling OS thread. It is stable for a
// goroutine only while that goroutine is locked to its thread.
func Current() uint64 {
	return uint64(unix.Gettid())
}

// Alive reports whether the thread tid still exists in this process.
// Signal 0 performs the existence check without delivering anything.
func Alive(tid uint64) bool {
	if tid == 0 {
		return false
	}
	return unix.Tgkill(unix.Getpid(), int(tid), 0) != unix.ESRCH
}
