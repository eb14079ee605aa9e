package slotlog

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Init(t *testing.T) {
	r := Init(WithConsole(nil), WithFallback(nil))
	defer r.Shutdown()
	assert.True(t, r.IsActive())
	assert.Equal(t, DEFAULT_MAX_SLOTS, r.SlotCount())
	assert.Equal(t, MODE_INLINE, r.Mode())
	for i := range r.SlotCount() {
		assert.Equal(t, SLOT_FREE, r.SlotState(i))
		assert.Nil(t, r.slots[i].ring.Load(), "rings are allocated on claim")
	}
	assert.Equal(t, FMT_DEFAULT, r.LevelConfig(LVL_INFO).Format)
	assert.Equal(t, OUT_CONSOLE|OUT_FILE, r.LevelConfig(LVL_ERROR).Output)
	assert.Equal(t, OUT_FILE, r.LevelConfig(LVL_USER1).Output)
	assert.Equal(t, FMT_USER, r.LevelConfig(LVL_USER4).Format)
	assert.Equal(t, SLOT_FREE, r.SlotState(-1))
	assert.Equal(t, SLOT_FREE, r.SlotState(r.SlotCount()))
}

func Test_Init_LevelsCopied(t *testing.T) {
	levels := DefaultLevels()
	r := Init(WithConsole(nil), WithLevels(levels))
	defer r.Shutdown()
	levels[LVL_INFO].Enabled = false
	assert.True(t, r.LevelConfig(LVL_INFO).Enabled, "caller table must not leak into registry")
}

func Test_Registry_Assign(t *testing.T) {
	r, _ := newTestRegistry(t, nil, nil, WithMaxSlots(2), WithSlotCapacity(128))
	a1, err := r.Assign(10)
	require.NoError(t, err)
	a2, err := r.Assign(10)
	require.NoError(t, err)
	assert.Equal(t, a1.SlotIndex(), a2.SlotIndex(), "same owner, same slot")
	assert.Equal(t, ThreadID(10), a1.ThreadID())
	assert.Equal(t, 128, r.slots[a1.SlotIndex()].ring.Load().Cap())

	b, err := r.AssignWithCapacity(20, 64)
	require.NoError(t, err)
	assert.NotEqual(t, a1.SlotIndex(), b.SlotIndex())
	assert.Equal(t, 64, r.slots[b.SlotIndex()].ring.Load().Cap())
	assert.Equal(t, ThreadID(20), r.SlotOwner(b.SlotIndex()))

	_, err = r.Assign(30)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.EqualError(t, err, _ERROR_MESSAGE_POOL_EXHAUSTED)
}

func Test_Registry_Assign_Concurrent(t *testing.T) {
	const slots = 64
	r, _ := newTestRegistry(t, nil, nil, WithMaxSlots(slots), WithSlotCapacity(64))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indices = map[int]ThreadID{}
		errs    int
	)
	hold := make(chan struct{})
	for range slots + 1 {
		wg.Go(func() {
			tid := r.NewThreadID()
			<-hold
			p, err := r.Assign(tid)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrPoolExhausted)
				errs++
				return
			}
			_, dup := indices[p.SlotIndex()]
			assert.False(t, dup, "slot %d claimed twice", p.SlotIndex())
			indices[p.SlotIndex()] = tid
		})
	}
	close(hold)
	wg.Wait()
	assert.Len(t, indices, slots)
	assert.Equal(t, 1, errs)
	for i, tid := range indices {
		assert.Equal(t, tid, r.SlotOwner(i))
		assert.Equal(t, SLOT_ACTIVE, r.SlotState(i))
	}
	assert.Equal(t, uint64(slots), r.claims.Load())
}

func Test_Registry_NewThreadID(t *testing.T) {
	r, _ := newTestRegistry(t, nil, nil)
	a, b := r.NewThreadID(), r.NewThreadID()
	assert.NotEqual(t, a, b)
	assert.NotZero(t, a&_GENERATED_TID_BIT)
	assert.Equal(t, DEFAULT_MAIN_THREAD, r.MainThread())
}

func Test_Registry_Write(t *testing.T) {
	out := &FakeWriter{}
	ferr := &FakeWriter{}
	r, _ := newTestRegistry(t, out, ferr, WithMaxSlots(1), WithLevels(plainLevels()))
	t.Run("main_inline", func(t *testing.T) {
		r.Write(r.MainThread(), LVL_INFO, FMT_FROM_LEVEL, Site{}, []byte("hello"))
		assert.Equal(t, "hello\n", out.String(), "main thread drains inline")
	})
	t.Run("exhausted_panics", func(t *testing.T) {
		assert.PanicsWithValue(t, ErrPoolExhausted, func() {
			r.Write(77, LVL_INFO, FMT_FROM_LEVEL, Site{}, []byte("no slot"))
		})
	})
	t.Run("bad_level", func(t *testing.T) {
		ferr.Clear()
		r.Write(r.MainThread(), _LVL_MAX_for_checks_only, FMT_NONE, Site{}, []byte("x"))
		assert.Equal(t, 0, len(ferr.String()), "invalid level goes to urgency queue, not straight to fallback")
		r.DrainAll()
		assert.Contains(t, ferr.String(), URGENCY_BANNER)
		assert.Contains(t, ferr.String(), _ERROR_MESSAGE_BAD_LEVEL)
	})
	t.Run("inactive", func(t *testing.T) {
		ferr.Clear()
		r.Shutdown()
		r.Write(r.MainThread(), LVL_INFO, FMT_NONE, Site{}, []byte("late"))
		assert.Equal(t, _ERROR_MESSAGE_REGISTRY_INACTIVE+"\n", ferr.String())
	})
}

func Test_Registry_Overflow(t *testing.T) {
	ferr := &FakeWriter{}
	r, _ := newTestRegistry(t, nil, ferr, WithLevels(plainLevels()))
	p, err := r.AssignWithCapacity(5, 64)
	require.NoError(t, err)
	rg := r.slots[p.SlotIndex()].ring.Load()

	// 30 bytes header + 66 payload + 4 end mark = 100 bytes, ring holds 63
	big := []byte(strings.Repeat("x", 66))
	err = p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, big)
	require.ErrorIs(t, err, ErrBufferOverflow)
	assert.Contains(t, err.Error(), "record 100 bytes, free 63 bytes")
	assert.Equal(t, 0, rg.Used(), "nothing of a dropped record is written")
	assert.Equal(t, uint64(1), r.Overflows())

	require.NoError(t, p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, []byte("abcd")))
	assert.Equal(t, 38, rg.Used())
	assert.ErrorIs(t, p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, []byte("abcd")), ErrBufferOverflow)
	assert.Equal(t, 38, rg.Used())
	assert.Equal(t, uint64(2), r.Overflows())

	// plain variant does not report the overflow twice
	p.Record(LVL_INFO, FMT_NONE, Site{}, big)
	assert.Equal(t, uint64(3), r.Overflows())

	assert.Equal(t, 1, r.DrainAll())
	notes := ferr.String()
	assert.Equal(t, 3, strings.Count(notes, URGENCY_BANNER))
	assert.Contains(t, notes, "slot "+strconv.Itoa(p.SlotIndex())+": 100 bytes record dropped, 63 bytes free (overflow #1)")
	assert.Contains(t, notes, "(overflow #3)")
}

func Test_Registry_Lifecycle(t *testing.T) {
	const T, U = ThreadID(100), ThreadID(200)
	var dead atomic.Bool
	probe := LivenessFunc(func(tid ThreadID) bool { return tid != T || !dead.Load() })
	out := &FakeWriter{}
	r, clk := newTestRegistry(t, out, nil,
		WithMaxSlots(2),
		WithLivenessProbe(probe),
		WithDrainLimit(1),
		WithCheckInterval(time.Second),
		WithGracePeriod(2*time.Second),
		WithLevels(plainLevels()),
	)

	p, err := r.Assign(T)
	require.NoError(t, err)
	idx := p.SlotIndex()
	for i := range 3 {
		require.NoError(t, p.Record_with_err(LVL_INFO, FMT_FROM_LEVEL, Site{}, []byte("t"+strconv.Itoa(i))))
	}

	dead.Store(true)
	clk.Add(time.Second)
	r.sync.drainMtx.Lock()
	n := r.tick(clk.Now())
	r.sync.drainMtx.Unlock()
	assert.Equal(t, 1, n)
	assert.Equal(t, SLOT_PENDING_CLOSE, r.SlotState(idx), "dead owner retired by the scan")
	assert.ErrorIs(t, p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, []byte("late")), ErrProducerRetired)

	// grace is over but the ring still holds records
	clk.Add(3 * time.Second)
	assert.Equal(t, 1, r.DrainAll())
	assert.Equal(t, SLOT_PENDING_CLOSE, r.SlotState(idx))

	// the last record is drained and the slot recycled in the same pass
	assert.Equal(t, 1, r.DrainAll())
	assert.Equal(t, SLOT_FREE, r.SlotState(idx))
	assert.Equal(t, ThreadID(0), r.SlotOwner(idx))
	assert.Equal(t, "t0\nt1\nt2\n", out.String())

	q, err := r.Assign(U)
	require.NoError(t, err)
	assert.Equal(t, idx, q.SlotIndex())
	assert.Equal(t, 0, r.slots[idx].used(), "no residue of the previous owner")
	assert.ErrorIs(t, p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, []byte("stale")), ErrProducerRetired)

	out.Clear()
	require.NoError(t, q.Record_with_err(LVL_INFO, FMT_FROM_LEVEL, Site{}, []byte("u")))
	r.DrainAll()
	assert.Equal(t, "u\n", out.String())
	assert.Equal(t, uint64(1), r.recycles)
}

func Test_Registry_PendingCloseWaitsForGrace(t *testing.T) {
	r, clk := newTestRegistry(t, nil, nil, WithGracePeriod(2*time.Second))
	p, err := r.Assign(9)
	require.NoError(t, err)
	p.Release()
	assert.Equal(t, 1, r.LivenessScan())
	assert.Equal(t, SLOT_PENDING_CLOSE, r.SlotState(p.SlotIndex()))
	r.DrainAll()
	assert.Equal(t, SLOT_PENDING_CLOSE, r.SlotState(p.SlotIndex()), "empty ring, grace not over")
	clk.Add(2 * time.Second)
	r.DrainAll()
	assert.Equal(t, SLOT_FREE, r.SlotState(p.SlotIndex()))
}

func Test_Registry_LivenessScan(t *testing.T) {
	r, _ := newTestRegistry(t, nil, nil,
		WithLivenessProbe(LivenessFunc(func(ThreadID) bool { return false })))
	m, err := r.Main()
	require.NoError(t, err)
	x, err := r.Assign(42)
	require.NoError(t, err)

	assert.Equal(t, 1, r.LivenessScan())
	assert.Equal(t, SLOT_ACTIVE, r.SlotState(m.SlotIndex()), "main thread is never retired by the probe")
	assert.Equal(t, SLOT_PENDING_CLOSE, r.SlotState(x.SlotIndex()))
	assert.Equal(t, 0, r.LivenessScan(), "already retired")

	m.Release()
	assert.Equal(t, 1, r.LivenessScan(), "released main thread is retired")
}

func Test_Registry_Release(t *testing.T) {
	r, _ := newTestRegistry(t, nil, nil)
	p, err := r.Assign(7)
	require.NoError(t, err)
	p.Release()
	assert.ErrorIs(t, p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, []byte("x")), ErrProducerRetired)
	q, err := r.Assign(7)
	require.NoError(t, err)
	assert.NotEqual(t, p.SlotIndex(), q.SlotIndex(), "released slot is not handed out again before recycling")
}

func Test_Registry_Suppression(t *testing.T) {
	out := &FakeWriter{}
	r, clk := newTestRegistry(t, out, nil, WithSuppression(32, 5, 10*time.Second))
	p, err := r.Assign(3)
	require.NoError(t, err)
	site := Site{File: "pkg/a.go", Line: 7}
	for range 20 {
		require.NoError(t, p.Record_with_err(LVL_INFO, FMT_NEWLINE, site, []byte("same")))
	}
	assert.Equal(t, uint64(5), r.slots[p.SlotIndex()].written.Load())
	assert.Equal(t, uint64(15), r.Suppressed())
	assert.Equal(t, 5, r.DrainAll())

	out.Clear()
	clk.Add(10 * time.Second)
	require.NoError(t, p.Record_with_err(LVL_INFO, FMT_NEWLINE, site, []byte("same")))
	r.DrainAll()
	assert.Equal(t, []string{
		"2024-05-06 07:08:19.123 [info ] suppressed 15 occurrences at pkg/a.go:7",
		"same",
	}, out.Lines())
}

func Test_Registry_SuppressionIdleProducer(t *testing.T) {
	out := &FakeWriter{}
	r, clk := newTestRegistry(t, out, nil, WithSuppression(32, 5, 10*time.Second))
	p, err := r.Assign(3)
	require.NoError(t, err)
	site := Site{File: "pkg/a.go", Line: 7}
	for range 20 {
		require.NoError(t, p.Record_with_err(LVL_INFO, FMT_NEWLINE, site, []byte("same")))
	}
	clk.Add(time.Minute)
	r.DrainAll()
	assert.Len(t, out.Lines(), 5, "an idle producer's cache is not touched by the consumer")

	r.Shutdown()
	lines := out.Lines()
	require.Len(t, lines, 6)
	assert.Equal(t, "2024-05-06 07:09:09.123 [info ] suppressed 15 occurrences at pkg/a.go:7", lines[5])
}

func Test_Registry_SuppressionNoSite(t *testing.T) {
	r, _ := newTestRegistry(t, nil, nil, WithSuppression(4, 1, time.Second))
	p, err := r.Assign(3)
	require.NoError(t, err)
	for range 10 {
		require.NoError(t, p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, []byte("w")))
	}
	assert.Equal(t, uint64(0), r.Suppressed(), "records without call site are never suppressed")
}

func Test_Registry_Levels(t *testing.T) {
	out := &FakeWriter{}
	r, _ := newTestRegistry(t, out, nil, WithLevels(plainLevels()))
	p, err := r.Assign(4)
	require.NoError(t, err)

	require.NoError(t, r.EnableLevel(LVL_DEBUG, false))
	assert.False(t, r.LevelConfig(LVL_DEBUG).Enabled)
	require.NoError(t, p.Record_with_err(LVL_DEBUG, FMT_FROM_LEVEL, Site{}, []byte("hidden")))
	assert.Equal(t, uint64(0), r.slots[p.SlotIndex()].written.Load())

	cfg := r.LevelConfig(LVL_WARN)
	cfg.Tag = "WARNING"
	cfg.Format = FMT_LEVEL | FMT_NEWLINE
	require.NoError(t, r.SetLevelConfig(LVL_WARN, cfg))
	require.NoError(t, p.Record_with_err(LVL_WARN, FMT_FROM_LEVEL, Site{}, []byte("shown")))
	r.DrainAll()
	assert.Equal(t, "[WARNING] shown\n", out.String())

	assert.ErrorIs(t, r.SetLevelConfig(LVL_UNKNOWN, cfg), ErrInvalidLevel)
	assert.ErrorIs(t, r.EnableLevel(_LVL_MAX_for_checks_only, true), ErrInvalidLevel)
	assert.ErrorIs(t, p.Record_with_err(LVL_UNKNOWN, FMT_NONE, Site{}, nil), ErrInvalidLevel)
	assert.ErrorIs(t, p.Record_with_err(200, FMT_NONE, Site{}, nil), ErrInvalidLevel)
}

func Test_Registry_EnableThreadedFlush(t *testing.T) {
	out := &FakeWriter{}
	r := Init(
		WithConsole(out),
		WithFallback(nil),
		WithLevels(plainLevels()),
		WithFlushInterval(time.Millisecond),
	)
	defer r.Shutdown()
	m, err := r.Main()
	require.NoError(t, err)
	m.Info("inline")
	assert.Equal(t, "inline\n", out.String())
	assert.Equal(t, MODE_INLINE, r.Mode())

	p, err := r.Assign(r.NewThreadID())
	require.NoError(t, err)
	p.Info("threaded")
	assert.Equal(t, MODE_THREADED, r.Mode(), "first non-main write switches mode")
	assert.False(t, r.EnableThreadedFlush(), "switch happens once")
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "threaded\n") },
		time.Second, time.Millisecond)
}

func Test_Registry_NoAutoThreaded(t *testing.T) {
	r, _ := newTestRegistry(t, nil, nil)
	p, err := r.Assign(55)
	require.NoError(t, err)
	p.Info("x")
	assert.Equal(t, MODE_INLINE, r.Mode())
	assert.True(t, r.EnableThreadedFlush())
	assert.Equal(t, MODE_THREADED, r.Mode())
}

func Test_Registry_Shutdown(t *testing.T) {
	out := &FakeWriter{}
	files := &fakeFiles{}
	r, _ := newTestRegistry(t, out, nil, WithLevels(plainLevels()), WithDrainLimit(1), WithFileSink(files))
	p, err := r.Assign(8)
	require.NoError(t, err)
	for i := range 100 {
		p.Record(LVL_INFO, FMT_FROM_LEVEL, Site{}, []byte(strconv.Itoa(i)))
	}
	r.Shutdown()
	assert.Len(t, out.Lines(), 100, "final drain ignores the drain limit")
	assert.Equal(t, "99", out.Lines()[99])
	assert.False(t, r.IsActive())
	assert.Equal(t, 1, files.closed)
	assert.Nil(t, r.slots[p.SlotIndex()].ring.Load(), "slot buffers released")

	_, err = r.Assign(9)
	assert.ErrorIs(t, err, ErrRegistryInactive)
	assert.ErrorIs(t, p.Record_with_err(LVL_INFO, FMT_NONE, Site{}, nil), ErrRegistryInactive)
	assert.False(t, r.EnableThreadedFlush())
	assert.Equal(t, 0, r.DrainAll())
	assert.NotPanics(t, r.Shutdown, "second shutdown is a no-op")
	assert.Equal(t, 1, files.closed)
}

func Test_Registry_ShutdownThreaded(t *testing.T) {
	out := &FakeWriter{}
	r := Init(WithConsole(out), WithFallback(nil), WithLevels(plainLevels()), WithFlushInterval(time.Hour))
	p, err := r.Assign(r.NewThreadID())
	require.NoError(t, err)
	for range 10 {
		p.Info("r")
	}
	require.Equal(t, MODE_THREADED, r.Mode())
	r.Shutdown()
	assert.Len(t, out.Lines(), 10, "records are drained after the flush goroutine stops")
}
