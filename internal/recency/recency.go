// Package recency blocks clients that are among the most recently admitted.
//
// A Tracker keeps one shared, insertion ordered log of the last admitted
// client identifiers. A client already in the log is refused; anyone else is
// appended and, once the log is over capacity, the oldest entry falls off the
// front. There is no time dimension: an identifier only leaves the log when
// enough other distinct clients are admitted after it.
package recency

import (
	"slices"
	"sync"
)

// MaxConnections is the capacity of the recency log.
const MaxConnections = 5

// Tracker is safe for concurrent use. The zero value is not usable, use New.
type Tracker struct {
	mu       sync.Mutex
	entries  []string
	capacity int

	// evictions only ever grows, it backs a prometheus counter
	evictions uint64
}

type Option func(*Tracker)

// WithCapacity overrides MaxConnections. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// New returns an empty Tracker holding at most MaxConnections identifiers.
func New(opts ...Option) *Tracker {
	t := &Tracker{capacity: MaxConnections}
	for _, o := range opts {
		o(t)
	}
	// one spare slot so an append never reallocates before the eviction
	t.entries = make([]string, 0, t.capacity+1)
	return t
}

// Admit reports whether ip may proceed. A refused ip leaves the log untouched;
// an admitted one becomes the most recent entry, evicting the oldest if needed.
func (t *Tracker) Admit(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slices.Contains(t.entries, ip) {
		return false
	}
	t.entries = append(t.entries, ip)
	if len(t.entries) > t.capacity {
		// shift in place to keep the backing array bounded
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:len(t.entries)-1]
		t.evictions++
	}
	return true
}

// Evictions reports how many entries have fallen off the front since New.
func (t *Tracker) Evictions() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}

// Snapshot returns a copy of the log, oldest first.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

// Len reports the number of identifiers in the log.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Capacity reports the maximum log length.
func (t *Tracker) Capacity() int { return t.capacity }
