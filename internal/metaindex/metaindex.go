// Package metaindex implements the metadata inverted index used to
// restrict vector search to records matching equality and numeric-range
// predicates (spec §4.4): an equality index backed by compressed
// bitmaps, a numeric range index backed by an ordered tree, and a key
// catalog supporting prefix lookup.
package metaindex

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/armon/go-radix"
	"github.com/google/btree"
)

// FilterStrategy is the chosen query plan for a filtered search: apply
// the metadata filter before descending the graph (cheap when the
// filter is highly selective) or after (cheap when almost everything
// matches and pre-filtering would just thrash the bitmap for no gain).
type FilterStrategy int

const (
	PreFilter FilterStrategy = iota
	PostFilter
)

// selectivityThreshold: a filter matching fewer than this fraction of the
// collection is cheap enough to pre-filter; above it, post-filtering
// avoids the cost of intersecting a near-universal bitmap into every
// graph hop (spec §4.4).
const selectivityThreshold = 0.05

// ChooseStrategy decides how a filter with matchCount hits over a
// collection of totalCount live records should be applied.
func ChooseStrategy(matchCount, totalCount int) FilterStrategy {
	if totalCount == 0 {
		return PostFilter
	}
	if float64(matchCount)/float64(totalCount) < selectivityThreshold {
		return PreFilter
	}
	return PostFilter
}

// numEntry is one (value, id) pair stored in a key's range tree. Entries
// order by value, breaking ties by id for deterministic iteration.
type numEntry struct {
	Value float64
	ID    uint32
}

func numEntryLess(a, b numEntry) bool {
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	return a.ID < b.ID
}

// Index is the metadata inverted index for one collection. All methods
// are safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	equality map[string]map[string]*roaring.Bitmap
	ranges   map[string]*btree.BTreeG[numEntry]
	keys     *radix.Tree
}

// New constructs an empty metadata index.
func New() *Index {
	return &Index{
		equality: make(map[string]map[string]*roaring.Bitmap),
		ranges:   make(map[string]*btree.BTreeG[numEntry]),
		keys:     radix.New(),
	}
}

// IndexString registers (key=value) -> id in the equality index.
func (idx *Index) IndexString(key, value string, id uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	values, ok := idx.equality[key]
	if !ok {
		values = make(map[string]*roaring.Bitmap)
		idx.equality[key] = values
		idx.keys.Insert(key, struct{}{})
	}
	bm, ok := values[value]
	if !ok {
		bm = roaring.New()
		values[value] = bm
	}
	bm.Add(id)
}

// RemoveString undoes a prior IndexString call for id.
func (idx *Index) RemoveString(key, value string, id uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if values, ok := idx.equality[key]; ok {
		if bm, ok := values[value]; ok {
			bm.Remove(id)
		}
	}
}

// IndexNumeric registers (key, value) -> id in the numeric range index.
func (idx *Index) IndexNumeric(key string, value float64, id uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	tr, ok := idx.ranges[key]
	if !ok {
		tr = btree.NewG[numEntry](32, numEntryLess)
		idx.ranges[key] = tr
		idx.keys.Insert(key, struct{}{})
	}
	tr.ReplaceOrInsert(numEntry{Value: value, ID: id})
}

// RemoveNumeric undoes a prior IndexNumeric call.
func (idx *Index) RemoveNumeric(key string, value float64, id uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if tr, ok := idx.ranges[key]; ok {
		tr.Delete(numEntry{Value: value, ID: id})
	}
}

// Equals returns the set of ids whose key field equals value.
func (idx *Index) Equals(key, value string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if values, ok := idx.equality[key]; ok {
		if bm, ok := values[value]; ok {
			return bm.Clone()
		}
	}
	return roaring.New()
}

// Range returns the ids whose key field falls in [min, max], sorted by
// id ascending.
func (idx *Index) Range(key string, min, max float64) []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tr, ok := idx.ranges[key]
	if !ok {
		return nil
	}
	var out []uint32
	tr.AscendRange(numEntry{Value: min}, numEntry{Value: max + smallestStep}, func(e numEntry) bool {
		out = append(out, e.ID)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// smallestStep nudges AscendRange's exclusive upper bound so a max value
// that exactly matches a stored entry is still included.
const smallestStep = 1e-9

// KeysWithPrefix lists every indexed metadata key starting with prefix.
func (idx *Index) KeysWithPrefix(prefix string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string
	idx.keys.WalkPrefix(prefix, func(k string, _ interface{}) bool {
		out = append(out, k)
		return false
	})
	return out
}
