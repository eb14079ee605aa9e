package slotlog

/*
Package-wide constants, enums and helpers:
  - default sizes, intervals and names
  - ANSI color constants
  - enums for levels, output and format bits, registry/slot states and modes
  - level name and color maps
  - normalization helpers
*/

import (
	"strconv"
	"time"
)

const (
	// Log level values. The trailing _LVL_MAX_for_checks_only is used as an
	// exclusive upper bound for normalization checks.
	LVL_UNKNOWN LogLevel = iota
	LVL_VERBOSE
	LVL_DEBUG
	LVL_INFO
	LVL_WARN
	LVL_ERROR
	LVL_FATAL
	LVL_USER1
	LVL_USER2
	LVL_USER3
	LVL_USER4
	_LVL_MAX_for_checks_only
)

const (
	// Output bits of a level.
	OUT_NONE    OutputMask = 0
	OUT_CONSOLE OutputMask = 1 << 0
	OUT_FILE    OutputMask = 1 << 1
)

const (
	// Format bits of a record. FMT_FROM_LEVEL asks the producer to use the
	// format configured for the record level.
	FMT_TIME FormatFlags = 1 << iota
	FMT_MILLIS
	FMT_LEVEL
	FMT_FILE
	FMT_FUNCTION
	FMT_NEWLINE

	FMT_NONE       FormatFlags = 0
	FMT_FROM_LEVEL FormatFlags = 1 << 15
	FMT_DEFAULT                = FMT_TIME | FMT_MILLIS | FMT_LEVEL | FMT_NEWLINE
	FMT_USER                   = FMT_LEVEL | FMT_NEWLINE
)

const (
	// Default values for short init forms
	DEFAULT_MAX_SLOTS          = 64
	DEFAULT_SLOT_CAPACITY      = 64 * 1024 // bytes per slot ring
	DEFAULT_DRAIN_LIMIT        = 512       // records per slot and drain pass
	DEFAULT_SUPPRESS_SITES     = 32
	DEFAULT_SUPPRESS_THRESHOLD = 20
	DEFAULT_SUPPRESS_INTERVAL  = 10 * time.Second
	DEFAULT_CHECK_INTERVAL     = time.Second
	DEFAULT_GRACE_PERIOD       = 2 * time.Second
	DEFAULT_FLUSH_INTERVAL     = 10 * time.Millisecond
	DEFAULT_URGENCY_QUEUE      = 64
	DEFAULT_OUT_BUFF           = 256 // initial buffer size for log output text
	DEFAULT_TIME_FORMAT        = "2006-01-02 15:04:05"
	DEFAULT_DATE_DIR_FORMAT    = "20060102"
	DEFAULT_FILE_BASE          = "slotlog"
	DEFAULT_FILE_EXT           = ".log"
	DEFAULT_SPLIT_SIZE_MB      = 100
	DEFAULT_MAIN_THREAD        = ThreadID(1)
)

const (
	// ANSI colored text fragments prefix/suffix used when colors are requested.
	// For a colored piece of text the sequence will be:
	// ANSI_COL_PRFX + colorSpec + ANSI_COL_SUFX + text + ANSI_COL_RESET
	ANSI_COL_PRFX  = "\033["
	ANSI_COL_SUFX  = "m"
	ANSI_COL_RESET = ANSI_COL_PRFX + "0" + ANSI_COL_SUFX
)

const (
	// Registry lifecycle states.
	_STATE_UNKNOWN regState = iota
	_STATE_ACTIVE
	_STATE_STOPPING
	_STATE_STOPPED
	_STATE_MAX_for_checks_only
)

const (
	// Slot lifecycle. CLAIMING is held only by the goroutine that won the CAS
	// while it prepares the slot.
	SLOT_FREE SlotState = iota
	SLOT_CLAIMING
	SLOT_ACTIVE
	SLOT_PENDING_CLOSE
	_SLOT_MAX_for_checks_only
)

const (
	// Draining modes.
	MODE_INLINE FlushMode = iota
	MODE_THREADED
	_MODE_MAX_for_checks_only
)

// Generated thread ids carry this bit so they never collide with OS thread ids.
const _GENERATED_TID_BIT ThreadID = 1 << 63

/////////////////////////////////////////////////////////////////////////////////////////

// Level tags printed by FMT_LEVEL. Padded to keep columns aligned.
var LevelTags = &LevelMap{
	"?????", //LVL_UNKNOWN
	"verbose",
	"debug",
	"info ",
	"warn ",
	"error",
	"fatal",
	"user1",
	"user2",
	"user3",
	"user4",
}

// Level names used in configuration files.
var LevelNames = &LevelMap{
	"unknown", //LVL_UNKNOWN
	"verbose",
	"debug",
	"info",
	"warn",
	"error",
	"fatal",
	"user1",
	"user2",
	"user3",
	"user4",
}

var LevelShortNames = &LevelMap{
	"???", //LVL_UNKNOWN
	"VRB", //LVL_VERBOSE
	"DBG", //LVL_DEBUG
	"INF", //LVL_INFO
	"WRN", //LVL_WARN
	"ERR", //LVL_ERROR
	"FTL", //LVL_FATAL
	"US1", //LVL_USER1
	"US2", //LVL_USER2
	"US3", //LVL_USER3
	"US4", //LVL_USER4
}

// Predefined color map for ANSI terminal (see WithConsoleColors)
var LevelColorOnBlackMap = &LevelMap{
	"9;90",     //LVL_UNKNOWN
	"2;90",     //LVL_VERBOSE
	"0;90",     //LVL_DEBUG
	"0;97",     //LVL_INFO
	"0;33",     //LVL_WARN
	"0;91",     //LVL_ERROR
	"101;1;33", //LVL_FATAL
	"0;36",     //LVL_USER1
	"0;36",     //LVL_USER2
	"0;35",     //LVL_USER3
	"0;35",     //LVL_USER4
}

var slotStateNames = [...]string{"free", "claiming", "active", "pending-close"}
var flushModeNames = [...]string{"inline", "threaded"}

func (s SlotState) String() string {
	if s >= 0 && s < _SLOT_MAX_for_checks_only {
		return slotStateNames[s]
	}
	return "slot-state(" + strconv.Itoa(int(s)) + ")"
}

func (m FlushMode) String() string {
	if m >= 0 && m < _MODE_MAX_for_checks_only {
		return flushModeNames[m]
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

func (l LogLevel) String() string {
	return LevelNames[normLevel(l)]
}

// ParseLevel returns the level with the given configuration name.
func ParseLevel(name string) (LogLevel, bool) {
	for i := LVL_VERBOSE; i < _LVL_MAX_for_checks_only; i++ {
		if LevelNames[i] == name {
			return i, true
		}
	}
	return LVL_UNKNOWN, false
}

// Generic byte normalization helper.
func norm_byte[T ~byte](val, overlimit, def T) T {
	if val < overlimit {
		return val
	} else {
		return def
	}
}

// Ensures a provided regState is within the valid range
func normState(state regState) regState {
	return norm_byte(state, _STATE_MAX_for_checks_only, _STATE_UNKNOWN)
}

// Ensures a provided LogLevel is within the valid range
func normLevel(level LogLevel) LogLevel {
	return norm_byte(level, _LVL_MAX_for_checks_only, LVL_UNKNOWN)
}

// Converts a panic value into a compact readable string (used when
// translating panics into errors or fallback messages)
func panicDesc(panic any) (errtext string) {
	switch v := panic.(type) {
	case string:
		errtext = ": `" + v + "`"
	case error:
		errtext = ": (error) `" + v.Error() + "`"
	default:
		errtext = " " + _ERROR_UNKNOWN_PANIC_TEXT
	}
	return errtext
}
