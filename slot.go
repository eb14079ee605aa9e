package slotlog

/*
Slot lifecycle and the producer side write path.

	SLOT_FREE --claim(CAS)--> SLOT_CLAIMING --> SLOT_ACTIVE
	SLOT_ACTIVE --liveness scan--> SLOT_PENDING_CLOSE
	SLOT_PENDING_CLOSE --grace over and ring empty--> SLOT_FREE

Only the consumer moves a slot out of SLOT_PENDING_CLOSE, so the ring is
never reset while it is being drained.
*/

import (
	"fmt"
	"strconv"
	"time"

	"github.com/abyssdigger/slotlog/internal/frame"
	"github.com/abyssdigger/slotlog/internal/ring"
	"github.com/abyssdigger/slotlog/internal/suppress"
)

func (s *slot) loadState() SlotState {
	return SlotState(s.state.Load())
}

// claim makes the slot Active for tid if it is Free. Exactly one of racing
// claimers wins. capacity <= 0 keeps the current ring or uses the default.
func (s *slot) claim(tid ThreadID, capacity int, o *options, now time.Time) bool {
	if !s.state.CompareAndSwap(int32(SLOT_FREE), int32(SLOT_CLAIMING)) {
		return false
	}
	s.owner.Store(uint64(tid))
	s.released.Store(false)
	s.closeAt.Store(0)
	rg := s.ring.Load()
	if capacity < 2 {
		capacity = o.slotCapacity
		if rg != nil {
			capacity = rg.Cap()
		}
	}
	if rg == nil || rg.Cap() != capacity {
		s.ring.Store(ring.New(capacity))
	} else {
		rg.Reset()
	}
	if s.cache == nil {
		s.cache = suppress.New(o.suppressSites, o.suppressThreshold, o.suppressInterval)
	}
	s.cache.Reset(now)
	s.gen.Add(1)
	s.state.Store(int32(SLOT_ACTIVE))
	return true
}

// retire moves an Active slot to PendingClose with the given end of grace.
func (s *slot) retire(closeAt time.Time) bool {
	s.closeAt.Store(closeAt.UnixNano())
	return s.state.CompareAndSwap(int32(SLOT_ACTIVE), int32(SLOT_PENDING_CLOSE))
}

// recycle frees a PendingClose slot once grace is over and its ring is empty.
// Consumer side only.
func (s *slot) recycle(now time.Time) bool {
	if s.loadState() != SLOT_PENDING_CLOSE || now.UnixNano() < s.closeAt.Load() {
		return false
	}
	rg := s.ring.Load()
	if rg != nil {
		if rg.Used() != 0 {
			return false
		}
		rg.Reset()
	}
	s.owner.Store(0)
	s.state.Store(int32(SLOT_FREE))
	return true
}

// drainOne decodes exactly one complete record if there is one.
// Consumer side only.
func (s *slot) drainOne(d *frame.Decoder) (frame.Record, bool) {
	rg := s.ring.Load()
	if rg == nil {
		return frame.Record{}, false
	}
	return d.Decode(rg)
}

// used returns the bytes waiting in the ring.
func (s *slot) used() int {
	if rg := s.ring.Load(); rg != nil {
		return rg.Used()
	}
	return 0
}

/////////////////////////////////////////////////////////////////////////////////////////

// write applies the level settings and the suppression cache and frames the
// record into the ring. It never blocks. Producer side only.
func (s *slot) write(r *Registry, now time.Time, level LogLevel, flags FormatFlags, site *Site, msg []byte) error {
	cfg := &r.levels.Load()[level]
	if !cfg.Enabled {
		return nil
	}
	if flags&FMT_FROM_LEVEL != 0 {
		flags = cfg.Format
	}
	if s.cache.Due(now) {
		s.flushSummaries(r, now)
	}
	if cfg.PreventFrequent && site.File != "" {
		if !s.cache.Allow(suppress.Site{File: site.File, Line: uint32(site.Line)}, uint8(level)) {
			s.suppressed.Add(1)
			return nil
		}
	}
	return s.push(r, now, level, flags, site, msg)
}

// flushSummaries rolls the suppression cache over and frames one summary
// record for every site that went over the threshold.
func (s *slot) flushSummaries(r *Registry, now time.Time) {
	s.sums = s.cache.Rollover(now, s.sums[:0])
	if len(s.sums) == 0 {
		return
	}
	levels := r.levels.Load()
	for i := range s.sums {
		sum := &s.sums[i]
		level := normLevel(LogLevel(sum.Level))
		site := Site{File: sum.Site.File, Line: int(sum.Site.Line)}
		msg := "suppressed " + strconv.Itoa(sum.Suppressed) + " occurrences at " +
			sum.Site.File + ":" + strconv.FormatUint(uint64(sum.Site.Line), 10)
		s.push(r, now, level, levels[level].Format, &site, []byte(msg))
	}
	clear(s.sums)
}

// push frames one record and hands it to the ring in a single write, or drops
// it when it does not fit.
func (s *slot) push(r *Registry, now time.Time, level LogLevel, flags FormatFlags, site *Site, msg []byte) error {
	rg := s.ring.Load()
	if rg == nil {
		return ErrRegistryInactive
	}
	rec := frame.Record{
		Level:    uint8(level),
		Flags:    uint16(flags &^ FMT_FROM_LEVEL),
		Line:     uint32(site.Line),
		File:     site.File,
		Function: site.Function,
		Payload:  msg,
	}
	rec.SetTime(now)
	size := frame.Size(&rec)
	if free := rg.Free(); size > free {
		n := s.overflows.Add(1)
		r.urgency.note(now, s.index, "slot "+strconv.Itoa(s.index)+": "+strconv.Itoa(size)+
			" bytes record dropped, "+strconv.Itoa(free)+" bytes free (overflow #"+strconv.FormatUint(n, 10)+")")
		return fmt.Errorf("%w: slot %d, record %d bytes, free %d bytes", ErrBufferOverflow, s.index, size, free)
	}
	s.scratch = frame.Append(s.scratch[:0], &rec)
	if _, err := rg.Write(s.scratch); err != nil {
		// free space only grows under the single producer
		return err
	}
	s.written.Add(1)
	return nil
}
