package segstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

func TestStore_AppendGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 4, metric.None)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Append(metric.Vector{1, 2, 3, 4})
	require.NoError(t, err)

	v, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, metric.Vector{1, 2, 3, 4}, v)

	s.Delete(id)
	assert.True(t, s.IsDeleted(id))
	_, err = s.Get(id)
	assert.Error(t, err)
}

func TestStore_ForEachLiveSkipsTombstones(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, metric.None)
	require.NoError(t, err)
	defer s.Close()

	var ids []GlobalID
	for i := 0; i < 5; i++ {
		id, err := s.Append(metric.Vector{float32(i), float32(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	s.Delete(ids[2])

	seen := 0
	err = s.ForEachLive(func(id GlobalID, v metric.Vector) bool {
		seen++
		assert.NotEqual(t, ids[2], id)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 4, seen)
	assert.Equal(t, 4, s.Count())
}

func TestStore_ScalarQuantizationRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 3, metric.ScalarI8)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Append(metric.Vector{0.5, -0.25, 1.0})
	require.NoError(t, err)

	v, err := s.Get(id)
	require.NoError(t, err)
	for i, want := range []float32{0.5, -0.25, 1.0} {
		assert.InDelta(t, float64(want), float64(v[i]), 0.05)
	}
}

func TestStore_ReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, metric.None)
	require.NoError(t, err)

	id, err := s.Append(metric.Vector{7, 8})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir, 2, metric.None)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Get(id)
	require.NoError(t, err)
	assert.Equal(t, metric.Vector{7, 8}, v)
}

func TestStore_RepairsTrailingCorruptRecordOnOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, metric.None)
	require.NoError(t, err)

	_, err = s.Append(metric.Vector{1, 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	path := filepath.Join(dir, segmentFileName(0))
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	// Corrupt the CRC of the second (never-written-but-zeroed) record slot
	// is already zero/zero, so instead flip a byte in the stored count to
	// simulate "count says 2 but only 1 record's bytes are valid".
	hdr, err := decodeHeader(readAt(f, 0, headerLen))
	require.NoError(t, err)
	hdr.Count = 2
	_, err = f.WriteAt(encodeHeader(hdr), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2, err := Open(dir, 2, metric.None)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 1, s2.Count())
}

func readAt(f *os.File, off int64, n int) []byte {
	b := make([]byte, n)
	f.ReadAt(b, off)
	return b
}
