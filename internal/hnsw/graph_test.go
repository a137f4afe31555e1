package hnsw

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

func TestGraph_InsertAndSearch_FindsExactMatch(t *testing.T) {
	k, err := metric.New(metric.L2, 8)
	require.NoError(t, err)
	g := New(k, Config{M: 8, EfConstruction: 64, EfSearch: 32})

	r := rand.New(rand.NewSource(42))
	var target metric.Vector
	var targetExternal uint32 = 999
	for i := 0; i < 200; i++ {
		v := randomVector(r, 8)
		external := uint32(i)
		if i == 100 {
			v = metric.Vector{1, 2, 3, 4, 5, 6, 7, 8}
			external = targetExternal
			target = append(metric.Vector(nil), v...)
		}
		_, err := g.Insert(v, external)
		require.NoError(t, err)
	}

	results, err := g.Search(target, 5, 64)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, targetExternal, results[0].ExternalID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
}

func TestGraph_Search_ResultsAscendingByDistance(t *testing.T) {
	k, err := metric.New(metric.L2, 4)
	require.NoError(t, err)
	g := New(k, Config{M: 8, EfConstruction: 32, EfSearch: 32})

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		_, err := g.Insert(randomVector(r, 4), uint32(i))
		require.NoError(t, err)
	}

	results, err := g.Search(randomVector(r, 4), 10, 32)
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestGraph_Delete_ExcludesFromSearch(t *testing.T) {
	k, err := metric.New(metric.L2, 3)
	require.NoError(t, err)
	g := New(k, Config{M: 8, EfConstruction: 32, EfSearch: 32})

	id, err := g.Insert(metric.Vector{1, 1, 1}, 42)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := g.Insert(metric.Vector{float32(i), float32(i), float32(i)}, uint32(i+1))
		require.NoError(t, err)
	}

	g.Delete(id)

	results, err := g.Search(metric.Vector{1, 1, 1}, 5, 32)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint32(42), r.ExternalID)
	}
}

func TestFuseRRF_CombinesRankingsWithAlphaWeight(t *testing.T) {
	vecRanked := []uint32{1, 2, 3}
	lexRanked := []uint32{3, 1, 2}

	fused := FuseRRF(vecRanked, lexRanked, 1.0)
	require.Len(t, fused, 3)
	assert.Equal(t, uint32(1), fused[0].ExternalID)

	fusedLexHeavy := FuseRRF(vecRanked, lexRanked, 10.0)
	assert.Equal(t, uint32(3), fusedLexHeavy[0].ExternalID)
}

func randomVector(r *rand.Rand, dim int) metric.Vector {
	v := make(metric.Vector, dim)
	for i := range v {
		v[i] = r.Float32()*20 - 10
	}
	return v
}
