// Package slotclock tracks the highest observed confirmed slot with a
// lock-free CAS loop, mirroring the compare_exchange_weak loop the upstream
// subscription handler uses for the same purpose. It is informational only:
// never substitute it for a transaction's own landed_slot.
package slotclock

import "sync/atomic"

// Clock is a monotonic highest-slot tracker. The zero value is ready to use.
type Clock struct {
	highest atomic.Uint64
}

// New returns a Clock starting at 0.
func New() *Clock {
	return &Clock{}
}

// Observe advances the tracked slot to max(current, slot) and returns the
// resulting value. Safe for concurrent use by any number of callers.
func (c *Clock) Observe(slot uint64) uint64 {
	for {
		cur := c.highest.Load()
		if slot <= cur {
			return cur
		}
		if c.highest.CompareAndSwap(cur, slot) {
			return slot
		}
	}
}

// Get returns the current highest observed slot.
func (c *Clock) Get() uint64 {
	return c.highest.Load()
}
