package metaindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndex_EqualityLookup(t *testing.T) {
	idx := New()
	idx.IndexString("category", "books", 1)
	idx.IndexString("category", "books", 2)
	idx.IndexString("category", "toys", 3)

	bm := idx.Equals("category", "books")
	assert.True(t, bm.Contains(1))
	assert.True(t, bm.Contains(2))
	assert.False(t, bm.Contains(3))

	idx.RemoveString("category", "books", 1)
	bm = idx.Equals("category", "books")
	assert.False(t, bm.Contains(1))
	assert.True(t, bm.Contains(2))
}

func TestIndex_RangeLookup(t *testing.T) {
	idx := New()
	idx.IndexNumeric("price", 9.99, 1)
	idx.IndexNumeric("price", 19.99, 2)
	idx.IndexNumeric("price", 29.99, 3)

	ids := idx.Range("price", 10, 30)
	assert.ElementsMatch(t, []uint32{2, 3}, ids)

	ids = idx.Range("price", 29.99, 29.99)
	assert.ElementsMatch(t, []uint32{3}, ids)
}

func TestIndex_KeysWithPrefix(t *testing.T) {
	idx := New()
	idx.IndexString("category", "books", 1)
	idx.IndexNumeric("category_weight", 1.5, 1)
	idx.IndexString("author", "tolkien", 1)

	keys := idx.KeysWithPrefix("category")
	assert.ElementsMatch(t, []string{"category", "category_weight"}, keys)
}

func TestChooseStrategy(t *testing.T) {
	assert.Equal(t, PreFilter, ChooseStrategy(4, 1000))
	assert.Equal(t, PostFilter, ChooseStrategy(500, 1000))
	assert.Equal(t, PostFilter, ChooseStrategy(0, 0))
}
