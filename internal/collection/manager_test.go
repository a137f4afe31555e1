package collection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/catalog"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

func testManager(t *testing.T) (*Manager, *catalog.Catalog) {
	dataDir := t.TempDir()
	cat, err := catalog.Open(dataDir + "/catalog.db")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	m := NewManager(cat, ManagerConfig{DataDir: dataDir, ReapInterval: 20 * time.Millisecond, IdleEvictAfter: 50 * time.Millisecond})
	t.Cleanup(func() { m.Close() })
	return m, cat
}

func TestManager_CreateGetInsertSearch(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "docs", "acme", 4, metric.L2, metric.None))

	c, err := m.Get(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, nil, nil))

	results, err := c.Search(metric.Vector{1, 0, 0, 0}, 1, 32, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].ExternalID)
}

func TestManager_ReapsIdleCollectionsAndReopensOnDemand(t *testing.T) {
	m, cat := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "docs", "acme", 4, metric.L2, metric.None))
	c, err := m.Get(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, 1, metric.Vector{1, 0, 0, 0}, nil, nil))

	require.Eventually(t, func() bool {
		m.mu.Lock()
		_, stillOpen := m.open["docs"]
		m.mu.Unlock()
		return !stillOpen
	}, time.Second, 10*time.Millisecond)

	rec, err := cat.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateEvicted, rec.State)

	reopened, err := m.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())

	rec, err = cat.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateActive, rec.State)
}

func TestManager_DropRemovesCatalogRowAndData(t *testing.T) {
	m, cat := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "docs", "acme", 4, metric.L2, metric.None))
	require.NoError(t, m.Drop(ctx, "docs"))

	_, err := cat.Get(ctx, "docs")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = m.Get(ctx, "docs")
	assert.Error(t, err)
}

func TestManager_ListScopesToTenant(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "a", "tenant1", 4, metric.L2, metric.None))
	require.NoError(t, m.Create(ctx, "b", "tenant2", 4, metric.L2, metric.None))

	recs, err := m.List(ctx, "tenant1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Name)
}
