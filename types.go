package slotlog

/*
Core data types:
  - basetype and a small set of typed aliases for clarity
  - Site: the call site carried by every record
  - LevelConfig / LevelTable: per-level routing and format settings
  - slot: one producer's ring, suppression cache and lifecycle state
  - Registry: the pool of slots, the consumer side and the sinks
  - Producer: the handle a producer writes through
*/

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abyssdigger/slotlog/internal/frame"
	"github.com/abyssdigger/slotlog/internal/ring"
	"github.com/abyssdigger/slotlog/internal/suppress"
)

type basetype byte // basetype is the underlying byte-sized representation used for enums

type LogLevel basetype   // Log levels (alias for byte)
type OutputMask basetype // Output bits of a level (OUT_*)
type regState basetype

type FormatFlags uint16 // Format bits of a record (FMT_*)
type SlotState int32    // Slot lifecycle state (SLOT_*)
type FlushMode int32    // Draining mode (MODE_*)
type ThreadID uint64    // Producer identity (OS thread id or generated)
type HandlerID uint64   // Handle returned by AddHandler

// LevelMap is a fixed-size array with one entry per log level. Used for
// level names, tags and colors.
type LevelMap [_LVL_MAX_for_checks_only]string

// Site is the place a record was logged from.
type Site struct {
	File     string
	Line     int
	Function string
}

// LevelConfig holds the routing and format settings of one level. Producers
// read it for Enabled, Format and PreventFrequent, the consumer for the rest.
type LevelConfig struct {
	Tag             string      // shown by FMT_LEVEL
	Enabled         bool        // records of a disabled level are ignored by producers
	Output          OutputMask  // console and/or file
	Format          FormatFlags // used for records logged with FMT_FROM_LEVEL
	PreventFrequent bool        // throttle repeated call sites
	FileName        string      // per-level file base name, global file if empty
	QuickFlush      bool        // write file output unbuffered
	DateDir         bool        // put the file into a YYYYMMDD sub-directory
	Split           bool        // split the file by size
}

// LevelTable is the configuration of all levels, indexed by LogLevel.
type LevelTable [_LVL_MAX_for_checks_only]LevelConfig

// slot is one producer channel. Atomic fields are shared between the owning
// producer, the claimers and the consumer; the rest is owned as noted.
type slot struct {
	index      int
	state      atomic.Int32              // SlotState
	gen        atomic.Uint64             // bumped on every claim
	owner      atomic.Uint64             // ThreadID of the claimer
	released   atomic.Bool               // producer handle released by its owner
	closeAt    atomic.Int64              // unix nanos, end of grace in SLOT_PENDING_CLOSE
	ring       atomic.Pointer[ring.Ring] // nil after shutdown
	overflows  atomic.Uint64             // records dropped for lack of space
	suppressed atomic.Uint64             // records dropped by the suppression cache
	written    atomic.Uint64             // records framed into the ring

	// owned by the producer (and by the claimer while SLOT_CLAIMING)
	cache   *suppress.Cache
	scratch []byte
	sums    []suppress.Summary
}

// handlerEntry is one registered handler. It is disabled after a panic.
type handlerEntry struct {
	id      HandlerID
	handler Handler
	enabled atomic.Bool
}

// counters keeps the totals last reported to Stats.
type counters struct {
	drained    uint64
	overflows  uint64
	suppressed uint64
	claims     uint64
	recycles   uint64
	urgency    uint64
}

// Registry is the central state holder: the pre-allocated slot pool, the
// level table, the sinks, the fallback writer and the flush goroutine.
type Registry struct {
	sync struct {
		statMtx  sync.RWMutex   // guards state changes against mode switches
		fbckMtx  sync.RWMutex   // guards access to fallback writer
		outsMtx  sync.RWMutex   // guards console and file sink
		hndlMtx  sync.RWMutex   // guards handlers
		chngMtx  sync.Mutex     // serializes level table updates
		drainMtx sync.Mutex     // at most one consumer at a time
		waitEnd  sync.WaitGroup // tracks the flush goroutine
	}
	opts     options
	slots    []slot
	levels   atomic.Pointer[LevelTable]
	state    atomic.Uint32 // regState
	mode     atomic.Int32  // FlushMode
	stop     chan struct{}
	nextTID  atomic.Uint64
	nextHID  HandlerID
	handlers []*handlerEntry
	console  io.Writer
	colors   *LevelMap
	files    FileSink
	fallbck  io.Writer
	stats    Stats
	urgency  *urgencyQueue

	// consumer side, guarded by drainMtx
	decoder  frame.Decoder
	msgbuf   *bytes.Buffer // formatted record
	conbuf   *bytes.Buffer // colored console copy
	lastScan time.Time
	claims   atomic.Uint64
	recycles uint64
	drained  uint64
	reported counters
}

// Producer is the write handle of one slot. A Producer is meant to be used by
// the goroutine (thread) it was assigned to only.
type Producer struct {
	registry *Registry
	slot     *slot
	tid      ThreadID
	gen      uint64
	curLevel LogLevel // level used by Write / fmt.Fprintf helpers
}
