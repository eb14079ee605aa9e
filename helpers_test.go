package slotlog

import (
	"errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

const testlogstr = "Test log АБВ こんにちは, 世界`'é\"\\\x5A\254\a\b\t\f\r\vи други глупости!"
const panicStr = "panic generated in writer"
const errorStr = "error generated in writer"

// Formatted time of fakeClock start in UTC.
const testTimeStr = "2024-05-06 07:08:09"

type PanicWriter struct{}

func (p *PanicWriter) Write(b []byte) (int, error) { panic(panicStr) }

type NilPanicWriter struct{}

func (p *NilPanicWriter) Write(b []byte) (int, error) { panic(&runtime.PanicNilError{}) }

// &runtime.PanicNilError{} instead of nil to prevent VSC problem "panic with nil value"

type ZeroPanicWriter struct{}

func (p *ZeroPanicWriter) Write(b []byte) (int, error) { panic(0) }

type ErrorWriter struct{}

func (e *ErrorWriter) Write(b []byte) (int, error) { return 0, errors.New(errorStr) }

// FakeWriter collects everything written. Safe to read while the flush
// goroutine writes.
type FakeWriter struct {
	mu     sync.Mutex
	buffer []byte
}

func (f *FakeWriter) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer = append(f.buffer, b...)
	return len(b), nil
}

func (f *FakeWriter) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.buffer)
}

func (f *FakeWriter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer = f.buffer[:0]
}

func (f *FakeWriter) Lines() []string {
	s := strings.TrimSuffix(f.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 6, 7, 8, 9, 123*int(time.Millisecond), time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestRegistry creates a registry on a fake clock without the flush
// goroutine: only main thread writes and DrainAll consume. It is shut down
// at the end of the test.
func newTestRegistry(t *testing.T, out, ferr io.Writer, opts ...Option) (*Registry, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	base := []Option{
		WithClock(clk.Now),
		WithConsole(out),
		WithFallback(ferr),
		WithAutoThreadedFlush(false),
		WithLivenessProbe(AlwaysAlive),
		WithTimeLocation(time.UTC),
	}
	r := Init(append(base, opts...)...)
	t.Cleanup(r.Shutdown)
	return r, clk
}

// plainLevels returns the default table with payload-only format and console
// output for every level.
func plainLevels() *LevelTable {
	t := DefaultLevels()
	for level := LVL_VERBOSE; level < _LVL_MAX_for_checks_only; level++ {
		t[level].Format = FMT_NEWLINE
		t[level].Output = OUT_CONSOLE
	}
	return t
}

// fakeFiles is a FileSink recording its calls.
type fakeFiles struct {
	mu      sync.Mutex
	writes  []string
	levels  []LogLevel
	flushes int
	closed  int
	err     error
}

func (f *fakeFiles) WriteLevel(level LogLevel, cfg *LevelConfig, ts time.Time, text []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(text))
	f.levels = append(f.levels, level)
	return f.err
}

func (f *fakeFiles) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeFiles) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}
