// Package replication implements the collection digest (a cheap,
// incrementally maintained fingerprint of a collection's contents used
// to detect replication drift) and the log-tailing replication stream
// (spec §4.8).
package replication

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

const bucketCount = 256

// Digest is a Merkle-style fingerprint: a running XOR of every live
// entry's hash, bucketed by external_id % 256 so two replicas can compare
// bucket-by-bucket and narrow a mismatch down to ~1/256th of the
// collection in O(256) comparisons instead of re-diffing everything.
type Digest struct {
	LogicalClock uint64
	StateHash    uint64
	Count        uint64
	Buckets      [bucketCount]uint64
}

// Tracker maintains a Digest incrementally as mutations are applied.
// The entry hash covers (externalID, vector) only, not the clock, so
// XOR-toggling the same pair twice cancels out, which is exactly
// insert-then-delete's effect on set
// membership — but Count must be driven by the caller's Insert/Delete
// distinction since XOR alone can't recover direction.
type Tracker struct {
	digest Digest
}

// NewTracker returns a Tracker starting from the zero digest.
func NewTracker() *Tracker { return &Tracker{} }

// entryHash derives a stable fingerprint for one (externalID, vector)
// pair via FNV-64a — there is no faster hash in use anywhere else in
// this codebase's dependency stack, and digest computation is not on the
// hot path of a single insert/search.
func entryHash(externalID uint32, vector metric.Vector) uint64 {
	h := fnv.New64a()
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], externalID)
	h.Write(idBuf[:])
	var vBuf [4]byte
	for _, c := range vector {
		binary.LittleEndian.PutUint32(vBuf[:], math.Float32bits(c))
		h.Write(vBuf[:])
	}
	return h.Sum64()
}

// Insert folds externalID/vector into the digest at clock and bumps
// Count. clock must be the mutation's Lamport clock.
func (t *Tracker) Insert(clock uint64, externalID uint32, vector metric.Vector) {
	t.toggle(clock, externalID, vector)
	t.digest.Count++
}

// Delete folds externalID/vector back out of the digest (XOR is its own
// inverse) and decrements Count.
func (t *Tracker) Delete(clock uint64, externalID uint32, vector metric.Vector) {
	t.toggle(clock, externalID, vector)
	if t.digest.Count > 0 {
		t.digest.Count--
	}
}

func (t *Tracker) toggle(clock uint64, externalID uint32, vector metric.Vector) {
	h := entryHash(externalID, vector)
	bucket := externalID % bucketCount
	t.digest.Buckets[bucket] ^= h
	t.digest.StateHash ^= h
	if clock > t.digest.LogicalClock {
		t.digest.LogicalClock = clock
	}
}

// Snapshot returns a copy of the current digest.
func (t *Tracker) Snapshot() Digest { return t.digest }

// DivergentBuckets compares two digests and returns the bucket indexes
// whose XOR differs, i.e. the regions of the keyspace where the two
// replicas disagree.
func DivergentBuckets(a, b Digest) []int {
	var out []int
	for i := 0; i < bucketCount; i++ {
		if a.Buckets[i] != b.Buckets[i] {
			out = append(out, i)
		}
	}
	return out
}
