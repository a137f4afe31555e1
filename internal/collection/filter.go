package collection

import "github.com/RoaringBitmap/roaring"

// RangeFilter restricts a numeric metadata field to [Min, Max].
type RangeFilter struct {
	Key      string
	Min, Max float64
}

// Filter is a conjunction of metadata predicates (spec §4.4): every
// clause must match for a record to pass.
type Filter struct {
	Equals []EqualsFilter
	Ranges []RangeFilter
}

// EqualsFilter restricts a string metadata field to an exact value.
type EqualsFilter struct {
	Key, Value string
}

func (f Filter) isEmpty() bool { return len(f.Equals) == 0 && len(f.Ranges) == 0 }

// matches intersects every clause's bitmap using the collection's
// metadata index, returning the externalIDs that satisfy all of them.
func (c *Collection) matches(f Filter) *roaring.Bitmap {
	var result *roaring.Bitmap
	intersect := func(bm *roaring.Bitmap) {
		if result == nil {
			result = bm
			return
		}
		result = roaring.And(result, bm)
	}

	for _, eq := range f.Equals {
		intersect(c.meta.Equals(eq.Key, eq.Value))
	}
	for _, r := range f.Ranges {
		bm := roaring.New()
		for _, id := range c.meta.Range(r.Key, r.Min, r.Max) {
			bm.Add(id)
		}
		intersect(bm)
	}
	if result == nil {
		return roaring.New()
	}
	return result
}
