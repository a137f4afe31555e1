package rpcsurface

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperspacedb/hyperspacedb/internal/catalog"
	"github.com/hyperspacedb/hyperspacedb/internal/collection"
)

func testService(t *testing.T, apiKey string) *Service {
	dataDir := t.TempDir()
	cat, err := catalog.Open(dataDir + "/catalog.db")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	m := collection.NewManager(cat, collection.ManagerConfig{DataDir: dataDir})
	t.Cleanup(func() { m.Close() })

	return NewService(m, apiKey, zerolog.New(io.Discard))
}

func TestService_CreateCollectionRejectsInvalidInput(t *testing.T) {
	s := testService(t, "")
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "", Dimension: 4, Metric: "l2"})
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, InvalidInput, svcErr.Kind)

	_, err = s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Dimension: 4, Metric: "manhattan"})
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, InvalidInput, svcErr.Kind)
}

func TestService_CreateCollectionRejectsDuplicate(t *testing.T) {
	s := testService(t, "")
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Dimension: 4, Metric: "l2"})
	require.NoError(t, err)

	_, err = s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Dimension: 4, Metric: "l2"})
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, AlreadyExists, svcErr.Kind)
}

func TestService_InsertSearchDeleteRoundTrip(t *testing.T) {
	s := testService(t, "")
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Dimension: 4, Metric: "l2"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, InsertRequest{Collection: "docs", ID: 1, Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	hits, err := s.Search(ctx, SearchRequest{Collection: "docs", Vector: []float32{1, 0, 0, 0}, TopK: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint32(1), hits[0].ID)

	_, err = s.Delete(ctx, DeleteRequest{Collection: "docs", ID: 1})
	require.NoError(t, err)

	_, err = s.Delete(ctx, DeleteRequest{Collection: "docs", ID: 1})
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, NotFound, svcErr.Kind)
}

func TestService_InsertRejectsWrongDimension(t *testing.T) {
	s := testService(t, "")
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Dimension: 4, Metric: "l2"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, InsertRequest{Collection: "docs", ID: 1, Vector: []float32{1, 0}})
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, InvalidInput, svcErr.Kind)
}

func TestService_GetCollectionStatsNotFound(t *testing.T) {
	s := testService(t, "")
	ctx := context.Background()

	_, err := s.GetCollectionStats(ctx, "missing")
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, NotFound, svcErr.Kind)
}

func TestService_Authenticate(t *testing.T) {
	s := testService(t, "supersecret")

	assert.NoError(t, s.Authenticate("supersecret"))

	err := s.Authenticate("wrong")
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, Unauthorized, svcErr.Kind)
}

func TestService_ConfigureAdjustsSearchParams(t *testing.T) {
	s := testService(t, "")
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Dimension: 4, Metric: "l2"})
	require.NoError(t, err)

	_, err = s.Configure(ctx, ConfigureRequest{Collection: "docs", EfSearch: 128, EfConstruction: 256})
	require.NoError(t, err)
}

func TestService_SearchWithHybridFusion(t *testing.T) {
	s := testService(t, "")
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Dimension: 4, Metric: "l2"})
	require.NoError(t, err)

	require.NoError(t, insertMany(ctx, s, "docs"))

	hits, err := s.Search(ctx, SearchRequest{
		Collection:  "docs",
		Vector:      []float32{1, 0, 0, 0},
		TopK:        3,
		HybridQuery: []uint32{3, 2, 1},
		HybridAlpha: 1.0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func insertMany(ctx context.Context, s *Service, collectionName string) error {
	vectors := map[uint32][]float32{
		1: {1, 0, 0, 0},
		2: {0.9, 0.1, 0, 0},
		3: {0, 1, 0, 0},
	}
	for id, v := range vectors {
		if _, err := s.Insert(ctx, InsertRequest{Collection: collectionName, ID: id, Vector: v}); err != nil {
			return err
		}
	}
	return nil
}
