package walog

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendAndReplay_StrictMode(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir, Mode: Strict})
	require.NoError(t, err)

	origin := uuid.New()
	for i := uint64(0); i < 5; i++ {
		payload := EncodeInsert(InsertPayload{
			ExternalID: uint32(i),
			Vector:     []float32{float32(i), float32(i) * 2},
		})
		err := l.Append(Record{LogicalClock: i, OriginNodeID: origin, Kind: OpInsert, Payload: payload})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	recs, err := Replay(dir)
	require.NoError(t, err)
	require.Len(t, recs, 5)

	for i, rec := range recs {
		assert.Equal(t, uint64(i), rec.LogicalClock)
		assert.Equal(t, OpInsert, rec.Kind)
		assert.Equal(t, origin, rec.OriginNodeID)

		p, err := DecodeInsert(rec.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), p.ExternalID)
	}
}

func TestLog_Replay_TruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir, Mode: Strict})
	require.NoError(t, err)

	origin := uuid.New()
	require.NoError(t, l.Append(Record{LogicalClock: 1, OriginNodeID: origin, Kind: OpInsert, Payload: EncodeInsert(InsertPayload{ExternalID: 1})}))
	require.NoError(t, l.Append(Record{LogicalClock: 2, OriginNodeID: origin, Kind: OpInsert, Payload: EncodeInsert(InsertPayload{ExternalID: 2})}))
	require.NoError(t, l.Close())

	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segs, 1)

	path := segmentPath(dir, segs[0])
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err := Replay(dir)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	info, err := os.Stat(path)
	require.NoError(t, err)
	l2, err := Open(Options{Dir: dir, Mode: Strict})
	require.NoError(t, err)
	require.NoError(t, l2.Close())
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info2.Size(), info.Size()+int64(frameHeaderLen))
}

func TestLog_RotatesSegments(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Options{Dir: dir, Mode: Async, RotateBytes: 64})
	require.NoError(t, err)

	origin := uuid.New()
	for i := uint64(0); i < 20; i++ {
		payload := EncodeInsert(InsertPayload{ExternalID: uint32(i), Vector: []float32{1, 2, 3, 4}})
		require.NoError(t, l.Append(Record{LogicalClock: i, OriginNodeID: origin, Kind: OpInsert, Payload: payload}))
	}
	require.NoError(t, l.Close())

	segs, err := listSegments(dir)
	require.NoError(t, err)
	assert.Greater(t, len(segs), 1)

	recs, err := Replay(dir)
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestSyncMode_String(t *testing.T) {
	assert.Equal(t, "async", Async.String())
	assert.Equal(t, "batch", Batch.String())
	assert.Equal(t, "strict", Strict.String())
}
