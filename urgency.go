package slotlog

/*
Urgency notes: diagnostics raised where the normal log path can not be used,
e.g. a producer whose ring is full. Producers queue notes without blocking,
the consumer writes them to the fallback writer behind a banner:

	===================[urgency]=================
	2006-01-02 15:04:05
	text

Notes are rate limited per slot, what is dropped (queue full) or limited is
counted and reported as one summary note.
*/

import (
	"strconv"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

const URGENCY_BANNER = "===================[urgency]================="

type urgencyNote struct {
	at   time.Time
	slot int // -1 for registry wide notes
	text string
}

type urgencyQueue struct {
	notes   chan urgencyNote
	dropped atomic.Uint64 // queue was full
	limiter *catrate.Limiter
	limited uint64 // consumer side
	total   uint64 // consumer side, written notes
}

// DefaultUrgencyRates allows a slot 5 notes per second and 20 per minute.
func DefaultUrgencyRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 5,
		time.Minute: 20,
	}
}

func newUrgencyQueue(size int, rates map[time.Duration]int) *urgencyQueue {
	if size <= 0 {
		size = DEFAULT_URGENCY_QUEUE
	}
	q := &urgencyQueue{notes: make(chan urgencyNote, size)}
	if len(rates) != 0 {
		q.limiter = catrate.NewLimiter(rates)
	}
	return q
}

// note queues a note, never blocks.
func (q *urgencyQueue) note(at time.Time, slot int, text string) {
	if q == nil {
		return
	}
	select {
	case q.notes <- urgencyNote{at: at, slot: slot, text: text}:
	default:
		q.dropped.Add(1)
	}
}

// flushUrgency writes queued notes to the fallback writer. Consumer side.
func (r *Registry) flushUrgency(now time.Time) {
	q := r.urgency
	for {
		select {
		case n := <-q.notes:
			if _, ok := q.limiter.Allow(n.slot); !ok {
				q.limited++
				continue
			}
			r.writeUrgency(n.at, n.text)
			q.total++
		default:
			dropped := q.dropped.Swap(0)
			if dropped != 0 || q.limited != 0 {
				r.writeUrgency(now, strconv.FormatUint(dropped, 10)+" urgency notes dropped (queue full), "+
					strconv.FormatUint(q.limited, 10)+" rate limited")
				q.total++
				q.limited = 0
			}
			return
		}
	}
}

// writeUrgency writes one banner note to the fallback writer.
func (r *Registry) writeUrgency(at time.Time, text string) {
	b := make([]byte, 0, len(URGENCY_BANNER)+len(DEFAULT_TIME_FORMAT)+len(text)+3)
	b = append(b, URGENCY_BANNER...)
	b = append(b, '\n')
	b = at.In(r.opts.location).AppendFormat(b, DEFAULT_TIME_FORMAT)
	b = append(b, '\n')
	b = append(b, text...)
	b = append(b, '\n')
	r.sync.fbckMtx.RLock()
	defer r.sync.fbckMtx.RUnlock()
	r.fallbck.Write(b)
}
