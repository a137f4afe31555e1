package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

func TestSaveLoad_RoundTripsGraph(t *testing.T) {
	k, err := metric.New(metric.L2, 4)
	require.NoError(t, err)
	cfg := hnsw.Config{M: 8, EfConstruction: 32, EfSearch: 32}
	g := hnsw.New(k, cfg)

	for i := 0; i < 50; i++ {
		v := metric.Vector{float32(i), float32(i) * 2, float32(i) * 3, float32(i) * 4}
		_, err := g.Insert(v, uint32(i))
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "graph.snap")
	require.NoError(t, Save(path, g, 4, metric.L2, metric.None, 42))

	loaded, dim, clock, err := Load(path, k, cfg, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, dim)
	assert.Equal(t, uint64(42), clock)
	assert.Equal(t, g.Len(), loaded.Len())

	before, err := g.Search(metric.Vector{10, 20, 30, 40}, 3, 32)
	require.NoError(t, err)
	after, err := loaded.Search(metric.Vector{10, 20, 30, 40}, 3, 32)
	require.NoError(t, err)

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ExternalID, after[i].ExternalID)
		assert.InDelta(t, before[i].Distance, after[i].Distance, 1e-4)
	}
}

func TestLoad_RejectsIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap")
	hdr := encodeFileHeader(fileHeader{})
	hdr[4] = 0xff // corrupt the version field
	require.NoError(t, os.WriteFile(path, hdr, 0o644))

	k, err := metric.New(metric.L2, 4)
	require.NoError(t, err)
	_, _, _, err = Load(path, k, hnsw.Config{}, 1)
	require.Error(t, err)
	assert.True(t, IsIncompatibleVersion(err))
}
