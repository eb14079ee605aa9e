// Package ring implements the fixed-capacity single-producer / single-consumer
// byte ring used as a slot transport.
//
// One byte of the buffer is never used so that a full ring can be told apart
// from an empty one:
//
//	used = tail >= head ? tail-head : cap-head+tail
//	free = cap - used - 1
//
// Only the producer stores tail and only the consumer stores head. Bytes are
// copied before the owning index is published with an atomic store, so the
// consumer never sees a tail past written data and the producer never sees
// space that the consumer is still copying out.
package ring

import (
	"errors"
	"sync/atomic"
)

const _ERROR_MESSAGE_NO_SPACE = "ring: not enough free space"

// ErrNoSpace is returned by Write when the data does not fit in the free space.
var ErrNoSpace = errors.New(_ERROR_MESSAGE_NO_SPACE)

// Ring is an SPSC circular byte buffer. The zero value is not usable, use New.
type Ring struct {
	buf  []byte
	head atomic.Int64 // consumer cursor, [0, cap)
	tail atomic.Int64 // producer cursor, [0, cap)
}

// New allocates a ring of the given capacity in bytes (at least 2).
func New(capacity int) *Ring {
	if capacity < 2 {
		panic("ring: capacity must be >= 2")
	}
	return &Ring{buf: make([]byte, capacity)}
}

func usedOf(head, tail, capacity int) int {
	if tail >= head {
		return tail - head
	}
	return capacity - head + tail
}

// Cap returns the capacity in bytes.
func (r *Ring) Cap() int { return len(r.buf) }

// Used returns the number of bytes ready for the consumer.
func (r *Ring) Used() int {
	return usedOf(int(r.head.Load()), int(r.tail.Load()), len(r.buf))
}

// Free returns the number of bytes the producer may write now.
func (r *Ring) Free() int {
	return len(r.buf) - r.Used() - 1
}

// Write copies all of p into the ring or nothing at all. It returns
// ErrNoSpace when len(p) > Free(). Producer side only.
func (r *Ring) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	size := len(r.buf)
	tail := int(r.tail.Load())
	head := int(r.head.Load())
	if n > size-usedOf(head, tail, size)-1 {
		return 0, ErrNoSpace
	}
	k := copy(r.buf[tail:], p)
	if k < n {
		copy(r.buf, p[k:])
	}
	tail += n
	if tail >= size {
		tail -= size
	}
	r.tail.Store(int64(tail)) // publish after the copy
	return n, nil
}

// peek copies up to min(len(p), Used()) bytes starting at head and returns the
// count together with the head it started from.
func (r *Ring) peek(p []byte) (n, head int) {
	size := len(r.buf)
	head = int(r.head.Load())
	tail := int(r.tail.Load())
	n = min(len(p), usedOf(head, tail, size))
	if n == 0 {
		return 0, head
	}
	k := copy(p[:n], r.buf[head:])
	if k < n {
		copy(p[k:n], r.buf)
	}
	return n, head
}

func (r *Ring) advance(head, n int) {
	head += n
	if head >= len(r.buf) {
		head -= len(r.buf)
	}
	r.head.Store(int64(head)) // release space after the copy out
}

// Peek copies up to min(len(p), Used()) bytes without consuming them.
// Consumer side only.
func (r *Ring) Peek(p []byte) int {
	n, _ := r.peek(p)
	return n
}

// Read copies up to min(len(p), Used()) bytes and consumes them.
// Consumer side only.
func (r *Ring) Read(p []byte) int {
	n, head := r.peek(p)
	if n > 0 {
		r.advance(head, n)
	}
	return n
}

// Drop consumes min(n, Used()) bytes without copying and returns the count.
// Consumer side only.
func (r *Ring) Drop(n int) int {
	head := int(r.head.Load())
	n = max(0, min(n, usedOf(head, int(r.tail.Load()), len(r.buf))))
	if n > 0 {
		r.advance(head, n)
	}
	return n
}

// Reset logically clears the ring. It must only be called while no producer
// is writing (slot recycle or claim).
func (r *Ring) Reset() {
	r.head.Store(0)
	r.tail.Store(0)
}
