package slotlog

import (
	"time"

	"github.com/abyssdigger/slotlog/internal/osthread"
)

// LivenessProbe tells the registry whether the owner of a slot still exists.
type LivenessProbe interface {
	Alive(tid ThreadID) bool
}

// LivenessFunc adapts a function to LivenessProbe.
type LivenessFunc func(tid ThreadID) bool

func (f LivenessFunc) Alive(tid ThreadID) bool { return f(tid) }

// AlwaysAlive reports every owner alive, slots are retired by
// Producer.Release only.
var AlwaysAlive LivenessProbe = LivenessFunc(func(ThreadID) bool { return true })

// OSThreadProbe treats thread ids as OS thread ids (see CurrentOSThread).
// Generated ids and platforms without thread liveness are reported alive.
var OSThreadProbe LivenessProbe = LivenessFunc(func(tid ThreadID) bool {
	if tid&_GENERATED_TID_BIT != 0 || !osthread.Supported() {
		return true
	}
	return osthread.Alive(uint64(tid))
})

// LivenessScan retires every Active slot whose owner is gone (reported dead by
// the probe or released) and is not the main thread. Retired slots are still
// drained and are recycled after the grace period. Returns the number of
// retired slots.
func (r *Registry) LivenessScan() int {
	r.sync.drainMtx.Lock()
	defer r.sync.drainMtx.Unlock()
	return r.livenessScan(r.now())
}

func (r *Registry) livenessScan(now time.Time) (n int) {
	closeAt := now.Add(r.opts.gracePeriod)
	for i := range r.slots {
		s := &r.slots[i]
		if s.loadState() != SLOT_ACTIVE {
			continue
		}
		tid := ThreadID(s.owner.Load())
		if !s.released.Load() && (tid == r.opts.mainThread || r.opts.probe.Alive(tid)) {
			continue
		}
		if s.retire(closeAt) {
			n++
		}
	}
	r.lastScan = now
	return n
}
