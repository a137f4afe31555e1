package replication

import "sync/atomic"

// Clock is a Lamport logical clock shared by every mutation applied to a
// collection, giving replicas a total causal order without depending on
// wall-clock time.
type Clock struct {
	v atomic.Uint64
}

// Tick advances the clock for a locally originated mutation and returns
// the new value.
func (c *Clock) Tick() uint64 {
	return c.v.Add(1)
}

// Observe merges in a clock value witnessed from elsewhere (a remote
// mutation, a replication stream cursor), advancing the local clock past
// it if it was behind — the standard Lamport merge rule.
func (c *Clock) Observe(remote uint64) uint64 {
	for {
		cur := c.v.Load()
		next := remote
		if cur > next {
			next = cur
		}
		next++
		if c.v.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Current returns the clock's value without advancing it.
func (c *Clock) Current() uint64 { return c.v.Load() }
