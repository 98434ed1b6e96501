package intake

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Dedup drops admission requests already seen within ttl. Safe for concurrent
// use.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]time.Time // request ID -> first seen
	ttl   time.Duration
	clock clock.Clock
}

// NewDedup creates a Dedup with the given window.
func NewDedup(ttl time.Duration, clk clock.Clock) *Dedup {
	if clk == nil {
		clk = clock.New()
	}
	return &Dedup{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: clk,
	}
}

// IsDuplicate reports whether id was seen within the window, recording it
// otherwise.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if seen, ok := d.seen[id]; ok && now.Sub(seen) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Forget removes id so a later retry of the same request is accepted.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Cleanup drops expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
