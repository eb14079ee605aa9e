// Package slotlog is a per-producer logging transport and dispatch pipeline.
//
// Every producer (an OS thread or a goroutine carrying a ThreadID) owns a slot
// with a lock-free ring into which it frames log records. A single consumer,
// the flush goroutine or the main producer itself before threaded mode is
// enabled, drains the slots, formats the records and routes them to the
// console, the file sink and the registered handlers.
//
// Preferred usage example:
//
//	func main() {
//	    reg := slotlog.Init(slotlog.WithConsole(os.Stdout))
//	    defer reg.Shutdown()
//	    log, _ := reg.Main()
//	    log.Info("started")
//	    ...
//	}
package slotlog

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/abyssdigger/slotlog/internal/osthread"
)

const (
	// Error messages used across registry operations (used for testing).
	_ERROR_MESSAGE_REGISTRY_INACTIVE = "slot registry is not active"
	_ERROR_MESSAGE_POOL_EXHAUSTED    = "all slots are claimed"
	_ERROR_MESSAGE_PRODUCER_RETIRED  = "producer slot is released or recycled"
	_ERROR_MESSAGE_BUFFER_OVERFLOW   = "slot buffer overflow, record dropped"
	_ERROR_MESSAGE_BAD_LEVEL         = "invalid log level"
	_ERROR_MESSAGE_PRODUCER_IS_NIL   = "producer is nil or not assigned"
	_ERROR_UNKNOWN_PANIC_TEXT        = "[no panic description]"
)

var (
	ErrRegistryInactive = errors.New(_ERROR_MESSAGE_REGISTRY_INACTIVE)
	ErrPoolExhausted    = errors.New(_ERROR_MESSAGE_POOL_EXHAUSTED)
	ErrProducerRetired  = errors.New(_ERROR_MESSAGE_PRODUCER_RETIRED)
	ErrBufferOverflow   = errors.New(_ERROR_MESSAGE_BUFFER_OVERFLOW)
	ErrInvalidLevel     = errors.New(_ERROR_MESSAGE_BAD_LEVEL)
)

// options collects Init settings.
type options struct {
	maxSlots          int
	slotCapacity      int
	clock             func() time.Time
	mainThread        ThreadID
	probe             LivenessProbe
	console           io.Writer
	colors            *LevelMap
	files             FileSink
	fallback          io.Writer
	stats             Stats
	levels            *LevelTable
	suppressSites     int
	suppressThreshold int
	suppressInterval  time.Duration
	checkInterval     time.Duration
	gracePeriod       time.Duration
	flushInterval     time.Duration
	drainLimit        int
	autoThreaded      bool
	location          *time.Location
	urgencyQueue      int
	urgencyRates      map[time.Duration]int
}

// Option configures a Registry in Init.
type Option func(*options)

func defaultOptions() options {
	return options{
		maxSlots:          DEFAULT_MAX_SLOTS,
		slotCapacity:      DEFAULT_SLOT_CAPACITY,
		clock:             time.Now,
		mainThread:        DEFAULT_MAIN_THREAD,
		probe:             OSThreadProbe,
		console:           os.Stdout,
		fallback:          os.Stderr,
		suppressSites:     DEFAULT_SUPPRESS_SITES,
		suppressThreshold: DEFAULT_SUPPRESS_THRESHOLD,
		suppressInterval:  DEFAULT_SUPPRESS_INTERVAL,
		checkInterval:     DEFAULT_CHECK_INTERVAL,
		gracePeriod:       DEFAULT_GRACE_PERIOD,
		flushInterval:     DEFAULT_FLUSH_INTERVAL,
		drainLimit:        DEFAULT_DRAIN_LIMIT,
		autoThreaded:      true,
		location:          time.Local,
		urgencyQueue:      DEFAULT_URGENCY_QUEUE,
		urgencyRates:      DefaultUrgencyRates(),
	}
}

// Number of pre-allocated slots ([DEFAULT_MAX_SLOTS] for non-positive values).
func WithMaxSlots(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSlots = n
		}
	}
}

// Default ring size in bytes of a claimed slot (values below 2 are ignored).
func WithSlotCapacity(n int) Option {
	return func(o *options) {
		if n >= 2 {
			o.slotCapacity = n
		}
	}
}

// Time source for records, suppression intervals and slot grace periods.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// The designated main thread: drains inline before threaded mode and is never
// retired by the liveness scan.
func WithMainThread(tid ThreadID) Option {
	return func(o *options) { o.mainThread = tid }
}

// Probe used by the liveness scan. nil reports every owner alive.
func WithLivenessProbe(p LivenessProbe) Option {
	return func(o *options) {
		if p == nil {
			p = AlwaysAlive
		}
		o.probe = p
	}
}

// Console output (nil disables console output).
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// ANSI colors for the console output, e.g. [LevelColorOnBlackMap].
func WithConsoleColors(colors *LevelMap) Option {
	return func(o *options) { o.colors = colors }
}

// File sink for levels with the OUT_FILE bit (nil disables file output).
func WithFileSink(fs FileSink) Option {
	return func(o *options) { o.files = fs }
}

// Fallback writer for internal errors and urgency notes (nil discards them).
func WithFallback(w io.Writer) Option {
	return func(o *options) { o.fallback = w }
}

// Metrics receiver for consumer side counters.
func WithStats(s Stats) Option {
	return func(o *options) { o.stats = s }
}

// Initial level table ([DefaultLevels] if nil).
func WithLevels(levels *LevelTable) Option {
	return func(o *options) { o.levels = levels }
}

// Suppression cache size per slot, allowed hits per site and reset interval.
func WithSuppression(sites, threshold int, interval time.Duration) Option {
	return func(o *options) {
		if sites > 0 {
			o.suppressSites = sites
		}
		o.suppressThreshold = threshold
		o.suppressInterval = interval
	}
}

func WithCheckInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.gracePeriod = d
		}
	}
}

// Pacing of the flush goroutine.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flushInterval = d
		}
	}
}

// Records drained from one slot per pass.
func WithDrainLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.drainLimit = n
		}
	}
}

// Whether a write from a non-main producer enables threaded flush.
func WithAutoThreadedFlush(on bool) Option {
	return func(o *options) { o.autoThreaded = on }
}

// Time zone of formatted timestamps and date directories.
func WithTimeLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// Size of the urgency note queue and the per-slot note rates.
func WithUrgency(queue int, rates map[time.Duration]int) Option {
	return func(o *options) {
		if queue > 0 {
			o.urgencyQueue = queue
		}
		if rates != nil {
			o.urgencyRates = rates
		}
	}
}

// DefaultLevels returns the default level table: standard levels go to the
// console and the file with time, milliseconds and level tag; user levels go
// to the file only with the level tag.
func DefaultLevels() *LevelTable {
	var t LevelTable
	for level := LVL_VERBOSE; level < _LVL_MAX_for_checks_only; level++ {
		cfg := LevelConfig{
			Tag:             LevelTags[level],
			Enabled:         true,
			Output:          OUT_CONSOLE | OUT_FILE,
			Format:          FMT_DEFAULT,
			PreventFrequent: true,
			Split:           true,
		}
		if level >= LVL_USER1 {
			cfg.Output = OUT_FILE
			cfg.Format = FMT_USER
		}
		t[level] = cfg
	}
	t[LVL_UNKNOWN] = LevelConfig{Tag: LevelTags[LVL_UNKNOWN]}
	return &t
}

/////////////////////////////////////////////////////////////////////////////////////////

// Init creates an active registry with all slots pre-allocated (rings are
// allocated on first claim) in inline mode.
func Init(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &Registry{
		opts:  o,
		slots: make([]slot, o.maxSlots),
		stop:  make(chan struct{}),
	}
	for i := range r.slots {
		r.slots[i].index = i
	}
	levels := o.levels
	if levels == nil {
		levels = DefaultLevels()
	} else {
		cp := *levels
		levels = &cp
	}
	r.levels.Store(levels)
	r.console = o.console
	r.colors = o.colors
	r.files = o.files
	r.stats = o.stats
	if r.stats == nil {
		r.stats = noopStats{}
	}
	r.SetFallback(o.fallback)
	r.urgency = newUrgencyQueue(o.urgencyQueue, o.urgencyRates)
	r.nextTID.Store(uint64(_GENERATED_TID_BIT))
	r.lastScan = o.clock()
	r.mode.Store(int32(MODE_INLINE))
	r.setState(_STATE_ACTIVE)
	return r
}

func (r *Registry) now() time.Time { return r.opts.clock() }

func (r *Registry) loadState() regState { return regState(r.state.Load()) }

func (r *Registry) setState(state regState) { r.state.Store(uint32(normState(state))) }

// True if the registry accepts records.
func (r *Registry) IsActive() bool {
	return r != nil && r.loadState() == _STATE_ACTIVE
}

// Sets the fallback output used to report internal errors, io.Discard is used
// instead of nil to silently drop fallback messages.
//
// The operation is protected by mutex for thread safety.
func (r *Registry) SetFallback(f io.Writer) *Registry {
	r.sync.fbckMtx.Lock()
	defer r.sync.fbckMtx.Unlock()
	if f != nil {
		r.fallbck = f
	} else {
		r.fallbck = io.Discard
	}
	return r
}

// Replaces the console output (nil disables it).
func (r *Registry) SetConsole(w io.Writer) *Registry {
	r.sync.outsMtx.Lock()
	defer r.sync.outsMtx.Unlock()
	r.console = w
	return r
}

// SetLevelConfig replaces the settings of one level. Producers see the change
// on their next write, records already framed keep their format bits.
func (r *Registry) SetLevelConfig(level LogLevel, cfg LevelConfig) error {
	if normLevel(level) == LVL_UNKNOWN {
		return ErrInvalidLevel
	}
	r.changeLevels(func(t *LevelTable) { t[level] = cfg })
	return nil
}

// EnableLevel switches a level on or off.
func (r *Registry) EnableLevel(level LogLevel, enabled bool) error {
	if normLevel(level) == LVL_UNKNOWN {
		return ErrInvalidLevel
	}
	r.changeLevels(func(t *LevelTable) { t[level].Enabled = enabled })
	return nil
}

// LevelConfig returns a copy of the current settings of a level.
func (r *Registry) LevelConfig(level LogLevel) LevelConfig {
	return r.levels.Load()[normLevel(level)]
}

// Copy-on-write update of the level table so producers read it lock-free.
func (r *Registry) changeLevels(f func(*LevelTable)) {
	r.sync.chngMtx.Lock()
	defer r.sync.chngMtx.Unlock()
	t := *r.levels.Load()
	f(&t)
	r.levels.Store(&t)
}

/////////////////////////////////////////////////////////////////////////////////////////
/*
Thread ids and slot assignment.

A ThreadID names a producer. OS thread ids (CurrentOSThread) are meaningful to
the default liveness probe, generated ids (NewThreadID) are only retired
through Producer.Release or a custom probe.
*/

// NewThreadID returns a fresh producer identity distinct from OS thread ids.
func (r *Registry) NewThreadID() ThreadID {
	return ThreadID(r.nextTID.Add(1))
}

// CurrentOSThread returns the OS thread id of the caller, 0 if unsupported.
// It is stable only for goroutines locked with runtime.LockOSThread.
func CurrentOSThread() ThreadID {
	return ThreadID(osthread.Current())
}

// MainThread returns the designated main thread id.
func (r *Registry) MainThread() ThreadID { return r.opts.mainThread }

// Main assigns the designated main thread.
func (r *Registry) Main() (*Producer, error) {
	return r.Assign(r.opts.mainThread)
}

// Assign returns a producer for the Active slot owned by tid or claims the
// first Free slot for it. ErrPoolExhausted is returned when every slot is in
// use.
func (r *Registry) Assign(tid ThreadID) (*Producer, error) {
	return r.AssignWithCapacity(tid, 0)
}

// AssignWithCapacity is Assign with an explicit ring size for a newly claimed
// slot. It must be called before the first record of tid, an already
// assigned slot keeps its ring.
func (r *Registry) AssignWithCapacity(tid ThreadID, capacity int) (*Producer, error) {
	s, err := r.assign(tid, capacity)
	if err != nil {
		return nil, err
	}
	return &Producer{registry: r, slot: s, tid: tid, gen: s.gen.Load(), curLevel: LVL_INFO}, nil
}

func (r *Registry) assign(tid ThreadID, capacity int) (*slot, error) {
	if !r.IsActive() {
		return nil, ErrRegistryInactive
	}
	if s := r.find(tid); s != nil {
		return s, nil
	}
	now := r.now()
	for i := range r.slots {
		// a lost CAS just moves on to the next slot
		if r.slots[i].claim(tid, capacity, &r.opts, now) {
			r.claims.Add(1)
			return &r.slots[i], nil
		}
	}
	return nil, ErrPoolExhausted
}

func (r *Registry) find(tid ThreadID) *slot {
	for i := range r.slots {
		s := &r.slots[i]
		if s.loadState() == SLOT_ACTIVE && ThreadID(s.owner.Load()) == tid && !s.released.Load() {
			return s
		}
	}
	return nil
}

// Write is the fire-and-forget entry point for tid. Exhausting the slot pool
// is a configuration error and panics; other failures are reported to the
// fallback writer.
func (r *Registry) Write(tid ThreadID, level LogLevel, flags FormatFlags, site Site, msg []byte) {
	s, err := r.assign(tid, 0)
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			panic(err)
		}
		r.handleLogWriteError(err.Error())
		return
	}
	p := Producer{registry: r, slot: s, tid: tid, gen: s.gen.Load()}
	p.report(p.Record_with_err(level, flags, site, msg))
}

/////////////////////////////////////////////////////////////////////////////////////////

// EnableThreadedFlush switches from inline draining to the flush goroutine.
// Only the first call switches (and returns true), later calls do nothing.
func (r *Registry) EnableThreadedFlush() bool {
	if FlushMode(r.mode.Load()) == MODE_THREADED {
		return false
	}
	r.sync.statMtx.RLock()
	defer r.sync.statMtx.RUnlock()
	if !r.IsActive() {
		return false
	}
	if !r.mode.CompareAndSwap(int32(MODE_INLINE), int32(MODE_THREADED)) {
		return false
	}
	r.sync.waitEnd.Go(r.flushLoop)
	return true
}

// Shutdown stops the flush goroutine, frames pending suppression summaries,
// drains every slot, closes the file sink and releases slot buffers. It must
// be called by a single owner; producers must not write after it starts.
func (r *Registry) Shutdown() {
	r.sync.statMtx.Lock()
	if !r.IsActive() {
		r.sync.statMtx.Unlock()
		return
	}
	r.setState(_STATE_STOPPING)
	close(r.stop)
	r.sync.statMtx.Unlock()

	r.sync.waitEnd.Wait()

	r.sync.drainMtx.Lock()
	defer r.sync.drainMtx.Unlock()
	// producers are done, pending summaries of idle ones are framed here
	now := r.now()
	for i := range r.slots {
		s := &r.slots[i]
		if state := s.loadState(); (state == SLOT_ACTIVE || state == SLOT_PENDING_CLOSE) && s.cache != nil {
			s.flushSummaries(r, now)
		}
	}
	r.drainFully()
	r.flushUrgency(r.now())
	r.reportStats(0, 0)
	r.closeFiles()
	if c, ok := r.stats.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.handleLogWriteError("error closing stats: " + err.Error())
		}
	}
	for i := range r.slots {
		r.slots[i].ring.Store(nil)
	}
	r.setState(_STATE_STOPPED)
}

/////////////////////////////////////////////////////////////////////////////////////////

// Mode returns the current draining mode.
func (r *Registry) Mode() FlushMode { return FlushMode(r.mode.Load()) }

// SlotCount returns the number of slots in the pool.
func (r *Registry) SlotCount() int { return len(r.slots) }

// SlotState returns the state of slot i (SLOT_FREE for out of range).
func (r *Registry) SlotState(i int) SlotState {
	if i < 0 || i >= len(r.slots) {
		return SLOT_FREE
	}
	return r.slots[i].loadState()
}

// SlotOwner returns the thread id that claimed slot i (0 when free).
func (r *Registry) SlotOwner(i int) ThreadID {
	if i < 0 || i >= len(r.slots) {
		return 0
	}
	return ThreadID(r.slots[i].owner.Load())
}

// Overflows returns the number of records dropped for lack of ring space.
func (r *Registry) Overflows() uint64 {
	var n uint64
	for i := range r.slots {
		n += r.slots[i].overflows.Load()
	}
	return n
}

// Suppressed returns the number of records dropped by suppression caches.
func (r *Registry) Suppressed() uint64 {
	var n uint64
	for i := range r.slots {
		n += r.slots[i].suppressed.Load()
	}
	return n
}
