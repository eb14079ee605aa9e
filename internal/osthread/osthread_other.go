//go:build !linux

package osthread

func Supported() bool { return false }

func Current() uint64 { return 0 }

func Alive(uint64) bool { return true }
