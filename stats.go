package slotlog

import (
	"time"

	"github.com/cactus/go-statsd-client/statsd"
)

// Stat names reported by the consumer. Counters are reported as deltas after
// every drain pass.
const (
	STAT_DRAINED    = "slotlog.records.drained"
	STAT_OVERFLOWS  = "slotlog.records.overflow"
	STAT_SUPPRESSED = "slotlog.records.suppressed"
	STAT_CLAIMS     = "slotlog.slots.claimed"
	STAT_RECYCLES   = "slotlog.slots.recycled"
	STAT_URGENCY    = "slotlog.urgency.notes"
	STAT_DRAIN_TIME = "slotlog.drain.pass"
)

// Stats receives pipeline metrics. It is only called from the consumer.
type Stats interface {
	IncrBy(stat string, value int)
	Timing(stat string, t time.Duration)
}

type noopStats struct{}

func (noopStats) IncrBy(string, int)            {}
func (noopStats) Timing(string, time.Duration) {}

// StatsdStats reports to a statsd server.
type StatsdStats struct {
	statter statsd.Statter
	rate    float32
}

func NewStatsdStats(statter statsd.Statter, rate float32) *StatsdStats {
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	return &StatsdStats{statter: statter, rate: rate}
}

// Timing sends t in milliseconds.
func (s *StatsdStats) Timing(stat string, t time.Duration) {
	s.statter.Timing(stat, t.Milliseconds(), s.rate)
}

func (s *StatsdStats) IncrBy(stat string, value int) {
	s.statter.Inc(stat, int64(value), s.rate)
}

// Close closes the underlying statter.
func (s *StatsdStats) Close() error {
	return s.statter.Close()
}

// reportStats sends the counter deltas since the previous report and the
// duration of a pass that dispatched n records.
func (r *Registry) reportStats(n int, took time.Duration) {
	cur := counters{
		drained:    r.drained,
		overflows:  r.Overflows(),
		suppressed: r.Suppressed(),
		claims:     r.claims.Load(),
		recycles:   r.recycles,
		urgency:    r.urgency.total,
	}
	prev := r.reported
	r.reported = cur
	incr := func(stat string, now, before uint64) {
		if now > before {
			r.stats.IncrBy(stat, int(now-before))
		}
	}
	incr(STAT_DRAINED, cur.drained, prev.drained)
	incr(STAT_OVERFLOWS, cur.overflows, prev.overflows)
	incr(STAT_SUPPRESSED, cur.suppressed, prev.suppressed)
	incr(STAT_CLAIMS, cur.claims, prev.claims)
	incr(STAT_RECYCLES, cur.recycles, prev.recycles)
	incr(STAT_URGENCY, cur.urgency, prev.urgency)
	if n > 0 {
		r.stats.Timing(STAT_DRAIN_TIME, took)
	}
}
