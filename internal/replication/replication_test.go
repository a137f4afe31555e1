package replication

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
	"github.com/hyperspacedb/hyperspacedb/internal/walog"
)

func TestTracker_InsertDeleteCancelsOut(t *testing.T) {
	tr := NewTracker()
	tr.Insert(1, 42, metric.Vector{1, 2, 3})
	withEntry := tr.Snapshot()
	assert.Equal(t, uint64(1), withEntry.Count)
	assert.NotZero(t, withEntry.StateHash)

	tr.Delete(2, 42, metric.Vector{1, 2, 3})
	empty := tr.Snapshot()
	assert.Equal(t, uint64(0), empty.Count)
	assert.Zero(t, empty.StateHash)
	assert.Equal(t, uint64(2), empty.LogicalClock)
}

func TestDivergentBuckets_FindsMismatch(t *testing.T) {
	a := NewTracker()
	a.Insert(1, 1, metric.Vector{1, 1})
	b := NewTracker()

	diverged := DivergentBuckets(a.Snapshot(), b.Snapshot())
	assert.NotEmpty(t, diverged)
}

type fakeSource struct {
	records []walog.Record
}

func (f fakeSource) RecordsSince(lastClock uint64) ([]walog.Record, error) {
	var out []walog.Record
	for _, r := range f.records {
		if r.LogicalClock > lastClock {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestReplicate_StreamsRecordsAfterCursor(t *testing.T) {
	origin := uuid.New()
	src := fakeSource{records: []walog.Record{
		{LogicalClock: 1, OriginNodeID: origin, Kind: walog.OpInsert},
		{LogicalClock: 2, OriginNodeID: origin, Kind: walog.OpInsert},
		{LogicalClock: 3, OriginNodeID: origin, Kind: walog.OpDelete},
	}}

	out, errc := Replicate(context.Background(), src, 1)
	var got []walog.Record
	for rec := range out {
		got = append(got, rec)
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].LogicalClock)
	assert.Equal(t, uint64(3), got[1].LogicalClock)
}

func TestClock_ObserveAdvancesPastRemote(t *testing.T) {
	var c Clock
	c.Tick()
	c.Tick()
	assert.Equal(t, uint64(2), c.Current())

	next := c.Observe(10)
	assert.Equal(t, uint64(11), next)
	assert.Equal(t, uint64(11), c.Current())
}
