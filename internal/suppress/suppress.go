// Package suppress throttles records repeatedly logged from the same call
// site. A Cache belongs to one slot and is touched by its producer only.
package suppress

import "time"

// Site identifies a call site.
type Site struct {
	File string
	Line uint32
}

// Summary describes the occurrences dropped for a site during one interval.
type Summary struct {
	Site       Site
	Level      uint8 // level last recorded for the site
	Suppressed int
}

type entry struct {
	site  Site
	level uint8
	count int
}

// Cache is a bounded site -> hit count table cleared on a fixed interval.
// When full, the entry with the smallest count is evicted (lowest index on
// ties).
type Cache struct {
	entries   []entry
	capacity  int
	threshold int
	interval  time.Duration
	deadline  time.Time
}

// New returns a cache of the given capacity that allows threshold hits per
// site and interval. A non-positive interval disables rollover.
func New(capacity, threshold int, interval time.Duration) *Cache {
	if capacity < 1 {
		panic("suppress: capacity must be >= 1")
	}
	return &Cache{
		entries:   make([]entry, 0, capacity),
		capacity:  capacity,
		threshold: threshold,
		interval:  interval,
	}
}

// Allow counts a hit for site and reports whether the record may pass.
func (c *Cache) Allow(site Site, level uint8) bool {
	for i := range c.entries {
		e := &c.entries[i]
		if e.site == site {
			e.count++
			e.level = level
			return e.count <= c.threshold
		}
	}
	if len(c.entries) < c.capacity {
		c.entries = append(c.entries, entry{site: site, level: level, count: 1})
		return true
	}
	victim := 0
	for i := 1; i < len(c.entries); i++ {
		if c.entries[i].count < c.entries[victim].count {
			victim = i
		}
	}
	c.entries[victim] = entry{site: site, level: level, count: 1}
	return true
}

// Due reports whether the interval is over at now.
func (c *Cache) Due(now time.Time) bool {
	return !c.deadline.IsZero() && !now.Before(c.deadline)
}

// Rollover appends a summary for every site over the threshold to dst,
// clears the table and schedules the next deadline.
func (c *Cache) Rollover(now time.Time, dst []Summary) []Summary {
	for _, e := range c.entries {
		if e.count > c.threshold {
			dst = append(dst, Summary{Site: e.site, Level: e.level, Suppressed: e.count - c.threshold})
		}
	}
	c.Reset(now)
	return dst
}

// Reset drops all entries and schedules the next deadline from now.
func (c *Cache) Reset(now time.Time) {
	clear(c.entries)
	c.entries = c.entries[:0]
	if c.interval > 0 {
		c.deadline = now.Add(c.interval)
	} else {
		c.deadline = time.Time{}
	}
}

func (c *Cache) Len() int { return len(c.entries) }

// Count returns the hits recorded for site in the current interval.
func (c *Cache) Count(site Site) int {
	for _, e := range c.entries {
		if e.site == site {
			return e.count
		}
	}
	return 0
}

func (c *Cache) Threshold() int { return c.threshold }
