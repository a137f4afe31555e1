package collection

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
	"github.com/hyperspacedb/hyperspacedb/internal/walog"
)

func testOptions(t *testing.T) Options {
	return Options{
		Name:         "test",
		Dir:          t.TempDir(),
		Dimension:    4,
		Metric:       metric.L2,
		Quantization: metric.None,
		WALSyncMode:  walog.Strict,
	}
}

func TestCollection_InsertAndSearch(t *testing.T) {
	c, err := Open(testOptions(t))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, nil, nil))
	require.NoError(t, c.Insert(ctx, 2, metric.Vector{0, 1, 0, 0}, nil, nil))
	require.NoError(t, c.Insert(ctx, 3, metric.Vector{10, 10, 10, 10}, nil, nil))

	results, err := c.Search(metric.Vector{1, 0, 0, 0}, 1, 32, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint32(1), results[0].ExternalID)
	assert.Equal(t, 3, c.Count())
}

func TestCollection_UpsertReplacesPriorVersion(t *testing.T) {
	c, err := Open(testOptions(t))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, map[string]string{"color": "red"}, nil))
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{0, 1, 0, 0}, map[string]string{"color": "blue"}, nil))

	assert.Equal(t, 1, c.Count())

	results, err := c.Search(metric.Vector{0, 1, 0, 0}, 1, 32, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint32(1), results[0].ExternalID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)

	noMatch := c.matches(Filter{Equals: []EqualsFilter{{Key: "color", Value: "red"}}})
	assert.Equal(t, uint64(0), noMatch.GetCardinality())
}

func TestCollection_DeleteRemovesFromSearchAndRecords(t *testing.T) {
	c, err := Open(testOptions(t))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, nil, nil))
	require.NoError(t, c.Insert(ctx, 2, metric.Vector{0, 1, 0, 0}, nil, nil))

	require.NoError(t, c.Delete(ctx, 1))
	assert.Equal(t, 1, c.Count())

	err = c.Delete(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	results, err := c.Search(metric.Vector{1, 0, 0, 0}, 5, 32, Filter{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint32(1), r.ExternalID)
	}
}

func TestCollection_SearchWithEqualsFilter(t *testing.T) {
	c, err := Open(testOptions(t))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, map[string]string{"kind": "cat"}, nil))
	require.NoError(t, c.Insert(ctx, 2, metric.Vector{1, 0.1, 0, 0}, map[string]string{"kind": "dog"}, nil))
	require.NoError(t, c.Insert(ctx, 3, metric.Vector{1, 0.2, 0, 0}, map[string]string{"kind": "cat"}, nil))

	results, err := c.Search(metric.Vector{1, 0, 0, 0}, 5, 32, Filter{
		Equals: []EqualsFilter{{Key: "kind", Value: "cat"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, []uint32{1, 3}, r.ExternalID)
	}
}

func TestCollection_SearchWithRangeFilter(t *testing.T) {
	c, err := Open(testOptions(t))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, nil, map[string]float64{"price": 5}))
	require.NoError(t, c.Insert(ctx, 2, metric.Vector{1, 0.1, 0, 0}, nil, map[string]float64{"price": 50}))
	require.NoError(t, c.Insert(ctx, 3, metric.Vector{1, 0.2, 0, 0}, nil, map[string]float64{"price": 500}))

	results, err := c.Search(metric.Vector{1, 0, 0, 0}, 5, 32, Filter{
		Ranges: []RangeFilter{{Key: "price", Min: 10, Max: 100}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(2), results[0].ExternalID)
}

func TestCollection_CloseAndReopenReplaysWAL(t *testing.T) {
	opts := testOptions(t)

	c, err := Open(opts)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, map[string]string{"kind": "cat"}, nil))
	require.NoError(t, c.Insert(ctx, 2, metric.Vector{0, 1, 0, 0}, nil, nil))
	require.NoError(t, c.Delete(ctx, 2))
	require.NoError(t, c.Close())

	reopened, err := Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Count())
	results, err := reopened.Search(metric.Vector{1, 0, 0, 0}, 5, 32, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].ExternalID)

	match := reopened.matches(Filter{Equals: []EqualsFilter{{Key: "kind", Value: "cat"}}})
	assert.True(t, match.Contains(1))
}

func TestCollection_ReopenLoadsSnapshotAndSkipsGraphReinsert(t *testing.T) {
	opts := testOptions(t)

	c, err := Open(opts)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, map[string]string{"kind": "cat"}, nil))
	require.NoError(t, c.Insert(ctx, 2, metric.Vector{0, 1, 0, 0}, nil, nil))
	require.NoError(t, c.Flush())
	require.NoError(t, c.Insert(ctx, 3, metric.Vector{0, 0, 1, 0}, nil, nil))
	require.NoError(t, c.Close())

	require.FileExists(t, filepath.Join(opts.Dir, "snapshot.hsn"))

	reopened, err := Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Count())
	assert.Equal(t, 3, reopened.index.Len())
	match := reopened.matches(Filter{Equals: []EqualsFilter{{Key: "kind", Value: "cat"}}})
	assert.True(t, match.Contains(1))

	results, err := reopened.Search(metric.Vector{0, 0, 1, 0}, 1, 32, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint32(3), results[0].ExternalID)
}

func TestCollection_SnapshotTickerFlushesPeriodically(t *testing.T) {
	opts := testOptions(t)
	opts.SnapshotInterval = 20 * time.Millisecond

	c, err := Open(opts)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, nil, nil))

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(filepath.Join(opts.Dir, "snapshot.hsn"))
		return statErr == nil
	}, time.Second, 10*time.Millisecond)
}

func TestCollection_SubmitReturnsResourceExhaustedWhenSaturated(t *testing.T) {
	opts := testOptions(t)
	opts.MaxInFlight = 1
	c, err := Open(opts)
	require.NoError(t, err)
	defer c.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		_ = c.submit(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err = c.submit(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrResourceExhausted)

	close(release)
	wg.Wait()
}
