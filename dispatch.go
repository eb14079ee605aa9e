package slotlog

/*
Consumer side: draining slots, formatting records and routing them to the
console, the file sink and the handlers.

At most one consumer runs at a time (drainMtx). Before threaded mode the main
producer drains inline after its own writes; after the switch the flush
goroutine does it on every tick.
*/

import (
	"bytes"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/abyssdigger/slotlog/internal/frame"
)

const timeLayoutMillis = DEFAULT_TIME_FORMAT + ".000"

// Handler receives every drained record as formatted text, regardless of the
// level outputs. text is only valid during the call.
type Handler interface {
	Handle(level LogLevel, text []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(level LogLevel, text []byte) error

func (f HandlerFunc) Handle(level LogLevel, text []byte) error { return f(level, text) }

// AddHandler registers h and returns its id (0 for a nil handler). Handlers
// run on the consumer; a panicking handler is disabled.
func (r *Registry) AddHandler(h Handler) HandlerID {
	if h == nil {
		return 0
	}
	r.sync.hndlMtx.Lock()
	defer r.sync.hndlMtx.Unlock()
	r.nextHID++
	e := &handlerEntry{id: r.nextHID, handler: h}
	e.enabled.Store(true)
	// the consumer iterates a snapshot, never append in place
	r.handlers = append(slices.Clip(r.handlers), e)
	return e.id
}

// RemoveHandler unregisters the handler with the given id.
func (r *Registry) RemoveHandler(id HandlerID) bool {
	r.sync.hndlMtx.Lock()
	defer r.sync.hndlMtx.Unlock()
	i := slices.IndexFunc(r.handlers, func(e *handlerEntry) bool { return e.id == id })
	if i < 0 {
		return false
	}
	r.handlers = slices.Delete(slices.Clone(r.handlers), i, i+1)
	return true
}

// IsHandlerEnabled returns false for unknown and disabled handlers.
func (r *Registry) IsHandlerEnabled(id HandlerID) bool {
	r.sync.hndlMtx.RLock()
	defer r.sync.hndlMtx.RUnlock()
	for _, e := range r.handlers {
		if e.id == id {
			return e.enabled.Load()
		}
	}
	return false
}

/////////////////////////////////////////////////////////////////////////////////////////

// afterWrite runs the inline consumer for the main thread, or switches to
// threaded mode on the first write of any other producer.
func (r *Registry) afterWrite(tid ThreadID) {
	if r.Mode() != MODE_INLINE {
		return
	}
	if tid != r.opts.mainThread {
		if r.opts.autoThreaded {
			r.EnableThreadedFlush()
		}
		return
	}
	if !r.sync.drainMtx.TryLock() {
		return
	}
	defer r.sync.drainMtx.Unlock()
	if r.IsActive() {
		r.tick(r.now())
	}
}

// DrainAll runs one drain pass over every slot (up to the drain limit per
// slot) and returns the number of dispatched records.
func (r *Registry) DrainAll() int {
	r.sync.drainMtx.Lock()
	defer r.sync.drainMtx.Unlock()
	if r.loadState() == _STATE_STOPPED {
		return 0
	}
	return r.drainPass(r.now())
}

// drainPass must be called with drainMtx held.
func (r *Registry) drainPass(now time.Time) (n int) {
	start := time.Now()
	for i := range r.slots {
		s := &r.slots[i]
		state := s.loadState()
		if state != SLOT_ACTIVE && state != SLOT_PENDING_CLOSE {
			continue
		}
		for range r.opts.drainLimit {
			rec, ok := s.drainOne(&r.decoder)
			if !ok {
				break
			}
			r.dispatch(&rec)
			n++
		}
		if state == SLOT_PENDING_CLOSE && s.recycle(now) {
			r.recycles++
		}
	}
	r.drained += uint64(n)
	r.flushUrgency(now)
	r.flushFiles()
	r.reportStats(n, time.Since(start))
	return n
}

// drainFully repeats drain passes until no record is left.
func (r *Registry) drainFully() (n int) {
	for {
		k := r.drainPass(r.now())
		if k == 0 {
			return n
		}
		n += k
	}
}

// tick is one step of the consumer: a liveness scan when it is due, then a
// drain pass.
func (r *Registry) tick(now time.Time) int {
	if now.Sub(r.lastScan) >= r.opts.checkInterval {
		r.livenessScan(now)
	}
	return r.drainPass(now)
}

// flushLoop is the body of the flush goroutine. The final drain is done by
// Shutdown once the loop is gone.
func (r *Registry) flushLoop() {
	ticker := time.NewTicker(r.opts.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.flushTick()
		}
	}
}

// flushTick recovers everything but stream corruption, which is reported and
// re-raised: the records of the slot can not be trusted anymore.
func (r *Registry) flushTick() {
	r.sync.drainMtx.Lock()
	defer r.sync.drainMtx.Unlock()
	defer func() {
		if p := recover(); p != nil {
			var ce *frame.CorruptionError
			if err, ok := p.(error); ok && errors.As(err, &ce) {
				r.writeUrgency(r.now(), "log stream corrupted"+panicDesc(p))
				panic(p)
			}
			r.handleLogWriteError("panic proceeding log" + panicDesc(p))
		}
	}()
	r.tick(r.now())
}

/////////////////////////////////////////////////////////////////////////////////////////

// dispatch formats one record and routes it. The record payload is only valid
// until the next decode.
func (r *Registry) dispatch(rec *frame.Record) {
	level := normLevel(LogLevel(rec.Level))
	cfg := &r.levels.Load()[level]
	if r.msgbuf == nil {
		r.msgbuf = bytes.NewBuffer(make([]byte, 0, DEFAULT_OUT_BUFF))
	}
	text := buildTextMessage(r.msgbuf, rec, cfg.Tag, r.opts.location).Bytes()
	if cfg.Output&OUT_CONSOLE != 0 {
		r.writeConsole(level, text)
	}
	if cfg.Output&OUT_FILE != 0 {
		r.writeFile(level, cfg, rec.Timestamp().In(r.opts.location), text)
	}
	r.callHandlers(level, text)
}

func (r *Registry) writeConsole(level LogLevel, text []byte) {
	r.sync.outsMtx.RLock()
	console, colors := r.console, r.colors
	r.sync.outsMtx.RUnlock()
	if console == nil {
		return
	}
	if colors != nil {
		if r.conbuf == nil {
			r.conbuf = bytes.NewBuffer(make([]byte, 0, DEFAULT_OUT_BUFF))
		}
		text = colorText(r.conbuf, colors[level], text).Bytes()
	}
	panicked, err := protect(func() error {
		n, e := console.Write(text)
		if e != nil {
			return errors.New("error writing log to console (" + strconv.Itoa(n) + " bytes written): " + e.Error())
		}
		return nil
	})
	if panicked {
		// got panic writing, disable console for further writes
		r.sync.outsMtx.Lock()
		r.console = nil
		r.sync.outsMtx.Unlock()
	}
	if err != nil {
		r.handleLogWriteError(err.Error())
	}
}

func (r *Registry) writeFile(level LogLevel, cfg *LevelConfig, ts time.Time, text []byte) {
	r.sync.outsMtx.RLock()
	files := r.files
	r.sync.outsMtx.RUnlock()
	if files == nil {
		return
	}
	panicked, err := protect(func() error { return files.WriteLevel(level, cfg, ts, text) })
	if panicked {
		r.sync.outsMtx.Lock()
		r.files = nil
		r.sync.outsMtx.Unlock()
	}
	if err != nil {
		r.handleLogWriteError("error writing log to file: " + err.Error())
	}
}

func (r *Registry) callHandlers(level LogLevel, text []byte) {
	r.sync.hndlMtx.RLock()
	handlers := r.handlers
	r.sync.hndlMtx.RUnlock()
	for _, e := range handlers {
		if !e.enabled.Load() {
			continue
		}
		panicked, err := protect(func() error { return e.handler.Handle(level, text) })
		if panicked {
			e.enabled.Store(false)
		}
		if err != nil {
			r.handleLogWriteError("handler " + strconv.FormatUint(uint64(e.id), 10) + ": " + err.Error())
		}
	}
}

// protect calls f and converts a panic into an error.
func protect(f func() error) (panicked bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			err = errors.New("panic writing log to output" + panicDesc(p))
		}
	}()
	err = f()
	return
}

// flushFiles flushes buffered file output at the end of a drain pass.
func (r *Registry) flushFiles() {
	r.sync.outsMtx.RLock()
	files := r.files
	r.sync.outsMtx.RUnlock()
	if files == nil {
		return
	}
	if _, err := protect(files.Flush); err != nil {
		r.handleLogWriteError("error flushing log files: " + err.Error())
	}
}

func (r *Registry) closeFiles() {
	r.sync.outsMtx.Lock()
	files := r.files
	r.files = nil
	r.sync.outsMtx.Unlock()
	if files == nil {
		return
	}
	if _, err := protect(files.Close); err != nil {
		r.handleLogWriteError("error closing log files: " + err.Error())
	}
}

// handleLogWriteError writes a human-readable error message to the fallback
// writer. A read lock is used since we only need consistent access to fallbck.
func (r *Registry) handleLogWriteError(errormsg string) {
	r.sync.fbckMtx.RLock()
	defer r.sync.fbckMtx.RUnlock()
	if r.fallbck != nil {
		r.fallbck.Write([]byte(errormsg + "\n"))
	}
}

/////////////////////////////////////////////////////////////////////////////////////////

// buildTextMessage formats a record according to its format bits:
//
//	<time>[.ms] [tag] [file:line] [function] payload[\n]
//
// Parts are separated by single spaces. The buffer is reset first and
// returned.
func buildTextMessage(outBuffer *bytes.Buffer, rec *frame.Record, tag string, loc *time.Location) *bytes.Buffer {
	outBuffer.Reset()
	if rec == nil {
		return outBuffer
	}
	flags := FormatFlags(rec.Flags)
	if flags&FMT_TIME != 0 {
		layout := DEFAULT_TIME_FORMAT
		if flags&FMT_MILLIS != 0 {
			layout = timeLayoutMillis
		}
		ts := rec.Timestamp()
		if loc != nil {
			ts = ts.In(loc)
		}
		outBuffer.Write(ts.AppendFormat(outBuffer.AvailableBuffer(), layout))
	}
	if flags&FMT_LEVEL != 0 {
		spaceIfAny(outBuffer)
		outBuffer.WriteByte('[')
		outBuffer.WriteString(tag)
		outBuffer.WriteByte(']')
	}
	if flags&FMT_FILE != 0 {
		spaceIfAny(outBuffer)
		outBuffer.WriteByte('[')
		outBuffer.WriteString(rec.File)
		outBuffer.WriteByte(':')
		outBuffer.Write(strconv.AppendUint(outBuffer.AvailableBuffer(), uint64(rec.Line), 10))
		outBuffer.WriteByte(']')
	}
	if flags&FMT_FUNCTION != 0 {
		spaceIfAny(outBuffer)
		outBuffer.WriteByte('[')
		outBuffer.WriteString(rec.Function)
		outBuffer.WriteByte(']')
	}
	spaceIfAny(outBuffer)
	outBuffer.Write(rec.Payload)
	if flags&FMT_NEWLINE != 0 {
		outBuffer.WriteByte('\n')
	}
	return outBuffer
}

func spaceIfAny(b *bytes.Buffer) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
}

// colorText wraps text into the ANSI color sequence, keeping a trailing line
// feed after the reset.
func colorText(outBuffer *bytes.Buffer, color string, text []byte) *bytes.Buffer {
	outBuffer.Reset()
	body, lf := bytes.CutSuffix(text, []byte{'\n'})
	outBuffer.WriteString(ANSI_COL_PRFX)
	outBuffer.WriteString(color)
	outBuffer.WriteString(ANSI_COL_SUFX)
	outBuffer.Write(body)
	outBuffer.WriteString(ANSI_COL_RESET)
	if lf {
		outBuffer.WriteByte('\n')
	}
	return outBuffer
}
