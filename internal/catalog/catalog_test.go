package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/metric"
)

func TestCatalog_CreateGetList(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Create(ctx, Record{
		Name:         "docs",
		TenantID:     "acme",
		Dimension:    768,
		Metric:       metric.Cosine,
		Quantization: metric.None,
	}))

	rec, err := c.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, 768, rec.Dimension)
	assert.Equal(t, metric.Cosine, rec.Metric)
	assert.Equal(t, StateActive, rec.State)

	err = c.Create(ctx, Record{Name: "docs", Dimension: 768, Metric: metric.Cosine, Quantization: metric.None})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, c.Create(ctx, Record{
		Name: "images", TenantID: "acme", Dimension: 512, Metric: metric.L2, Quantization: metric.ScalarI8,
	}))

	all, err := c.List(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCatalog_SetStateAndDelete(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Create(ctx, Record{Name: "docs", Dimension: 4, Metric: metric.L2, Quantization: metric.None}))

	require.NoError(t, c.SetState(ctx, "docs", StateEvicted))
	rec, err := c.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, StateEvicted, rec.State)

	err = c.SetState(ctx, "missing", StateDropped)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Delete(ctx, "docs"))
	_, err = c.Get(ctx, "docs")
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.Delete(ctx, "docs")
	assert.ErrorIs(t, err, ErrNotFound)
}
