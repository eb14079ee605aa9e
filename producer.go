package slotlog

/*
Producer is the write side of one slot, obtained from Registry.Assign.

Producers never take a mutex and never wait on the write path: a record is
framed into the slot ring or dropped. Helpers come in pairs, the _with_err
variant returns why a record was not accepted, the plain one reports the
failure through the urgency queue (or the fallback writer when the registry
is down) and returns nothing.

A Producer belongs to one goroutine. Its slot suppression cache and scratch
buffer are not synchronized.
*/

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ThreadID returns the identity the producer was assigned to.
func (p *Producer) ThreadID() ThreadID { return p.tid }

// SlotIndex returns the index of the producer slot.
func (p *Producer) SlotIndex() int { return p.slot.index }

func (p *Producer) check() error {
	if p == nil || p.registry == nil || p.slot == nil {
		return errors.New(_ERROR_MESSAGE_PRODUCER_IS_NIL)
	}
	if !p.registry.IsActive() {
		return ErrRegistryInactive
	}
	if p.slot.gen.Load() != p.gen || p.slot.loadState() != SLOT_ACTIVE || p.slot.released.Load() {
		return ErrProducerRetired
	}
	return nil
}

// Record_with_err frames one record with an explicit format and call site.
// FMT_FROM_LEVEL uses the format configured for the level.
//
// The call is a no-op returning nil if the level is disabled or the site is
// suppressed. A record that does not fit in the ring is dropped and an error
// wrapping ErrBufferOverflow is returned.
func (p *Producer) Record_with_err(level LogLevel, flags FormatFlags, site Site, msg []byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if level == LVL_UNKNOWN || normLevel(level) != level {
		return ErrInvalidLevel
	}
	r := p.registry
	err := p.slot.write(r, r.now(), level, flags, &site, msg)
	r.afterWrite(p.tid)
	return err
}

// Record is Record_with_err without the error.
func (p *Producer) Record(level LogLevel, flags FormatFlags, site Site, msg []byte) {
	p.report(p.Record_with_err(level, flags, site, msg))
}

// report forwards a write failure: overflows already queued their note,
// an inactive registry has no consumer, so it goes straight to the fallback.
func (p *Producer) report(err error) {
	switch {
	case err == nil, errors.Is(err, ErrBufferOverflow):
	case p == nil || p.registry == nil || p.slot == nil:
	case errors.Is(err, ErrRegistryInactive):
		p.registry.handleLogWriteError(err.Error())
	default:
		p.registry.urgency.note(p.registry.now(), p.slot.index, err.Error())
	}
}

// caller returns the site skip frames above its caller.
func caller(skip int) Site {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Site{}
	}
	site := Site{File: trimPath(file), Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		site.Function = fn.Name()
		if i := strings.LastIndexByte(site.Function, '/'); i >= 0 {
			site.Function = site.Function[i+1:]
		}
	}
	return site
}

// trimPath keeps the last directory and the file name.
func trimPath(file string) string {
	i := strings.LastIndexByte(file, '/')
	if i <= 0 {
		return file
	}
	if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
		return file[j+1:]
	}
	return file
}

// Log_with_err writes a string at the provided level with the format of the
// level and the caller as call site.
func (p *Producer) Log_with_err(level LogLevel, s string) error {
	return p.Record_with_err(level, FMT_FROM_LEVEL, caller(1), []byte(s))
}

// Log is Log_with_err without the error.
func (p *Producer) Log(level LogLevel, s string) {
	p.report(p.Record_with_err(level, FMT_FROM_LEVEL, caller(1), []byte(s)))
}

// Logf formats according to a format specifier and writes the result.
func (p *Producer) Logf(level LogLevel, format string, args ...any) {
	p.report(p.Record_with_err(level, FMT_FROM_LEVEL, caller(1), fmt.Appendf(nil, format, args...)))
}

/////////////////////////////////////////////////////////////////////////////////////////
/*
Convenience level-specific helpers. All of them behave like Log: the caller
is the call site and failures are reported, not returned.
*/

func (p *Producer) Verbose(s string) {
	p.report(p.Record_with_err(LVL_VERBOSE, FMT_FROM_LEVEL, caller(1), []byte(s)))
}

func (p *Producer) Debug(s string) {
	p.report(p.Record_with_err(LVL_DEBUG, FMT_FROM_LEVEL, caller(1), []byte(s)))
}

func (p *Producer) Info(s string) {
	p.report(p.Record_with_err(LVL_INFO, FMT_FROM_LEVEL, caller(1), []byte(s)))
}

func (p *Producer) Warn(s string) {
	p.report(p.Record_with_err(LVL_WARN, FMT_FROM_LEVEL, caller(1), []byte(s)))
}

func (p *Producer) Error(s string) {
	p.report(p.Record_with_err(LVL_ERROR, FMT_FROM_LEVEL, caller(1), []byte(s)))
}

// LogErr logs an error value at ERROR level.
func (p *Producer) LogErr(e error) {
	p.report(p.Record_with_err(LVL_ERROR, FMT_FROM_LEVEL, caller(1), []byte(e.Error())))
}

// Fatal only logs at FATAL level, the program is not terminated.
func (p *Producer) Fatal(s string) {
	p.report(p.Record_with_err(LVL_FATAL, FMT_FROM_LEVEL, caller(1), []byte(s)))
}

/////////////////////////////////////////////////////////////////////////////////////////

// FlushSuppressed ends the current suppression interval now and frames the
// summaries of suppressed sites.
func (p *Producer) FlushSuppressed() error {
	if err := p.check(); err != nil {
		return err
	}
	p.slot.flushSummaries(p.registry, p.registry.now())
	return nil
}

// Release tells the registry that the owner is done with the slot. Pending
// suppression summaries are framed first; the next liveness scan retires the
// slot and it is recycled once drained. The producer can not write anymore.
func (p *Producer) Release() {
	if p.check() != nil {
		return
	}
	p.slot.flushSummaries(p.registry, p.registry.now())
	p.slot.released.Store(true)
}
