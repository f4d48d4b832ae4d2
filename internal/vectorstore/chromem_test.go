package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocs() []Document {
	return []Document{
		{ID: "1", Content: "lifeboat", Metadata: map[string]string{"label": "High"}, Embedding: []float32{1, 0, 0}},
		{ID: "2", Content: "garbage log", Metadata: map[string]string{"label": "Medium"}, Embedding: []float32{0.8, 0.6, 0}},
		{ID: "3", Content: "paint", Metadata: map[string]string{"label": "Low"}, Embedding: []float32{0, 0, 1}},
	}
}

func TestChromemStore_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, "rsrisk_test", testDocs()))

	n, err := s.Count(ctx, "rsrisk_test")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := s.Query(ctx, "rsrisk_test", []float32{2, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "1", res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-5)
	assert.Equal(t, "2", res[1].ID)
	assert.InDelta(t, 0.8, res[1].Score, 1e-5)
	assert.Equal(t, "Medium", res[1].Metadata["label"])
}

func TestChromemStore_QueryThresholdAndK(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "rsrisk_test", testDocs()))

	res, err := s.Query(ctx, "rsrisk_test", []float32{1, 0, 0}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, res, 1, "k larger than the collection is capped and low scores are cut")
	assert.Equal(t, "lifeboat", res[0].Content)

	res, err = s.Query(ctx, "rsrisk_test", []float32{0, 1, 0}, 3, 0.99)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = s.Query(ctx, "rsrisk_test", []float32{1, 0, 0}, 0, 0)
	assert.Error(t, err)
}

func TestChromemStore_MissingCollection(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)

	res, err := s.Query(ctx, "rsrisk_absent", []float32{1}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, res)

	n, err := s.Count(ctx, "rsrisk_absent")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, s.DeleteCollection(ctx, "rsrisk_absent"))
}

func TestChromemStore_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Upsert(ctx, "rsrisk_test", nil), ErrEmptyDocuments)
	assert.ErrorIs(t, s.Upsert(ctx, "Bad-Name", testDocs()), ErrInvalidCollectionName)

	mixed := testDocs()
	mixed[2].Embedding = []float32{1, 0}
	assert.ErrorIs(t, s.Upsert(ctx, "rsrisk_test", mixed), ErrDimensionMismatch)
}

func TestChromemStore_UpsertDoesNotMutateInput(t *testing.T) {
	s, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)

	docs := []Document{{ID: "a", Content: "x", Embedding: []float32{3, 4}}}
	require.NoError(t, s.Upsert(context.Background(), "rsrisk_test", docs))
	assert.Equal(t, []float32{3, 4}, docs[0].Embedding)
}

func TestChromemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir, Compress: true}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "rsrisk_persist", testDocs()))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, Compress: true}, nil)
	require.NoError(t, err)
	n, err := reopened.Count(ctx, "rsrisk_persist")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, reopened.DeleteCollection(ctx, "rsrisk_persist"))
	n, err = reopened.Count(ctx, "rsrisk_persist")
	require.NoError(t, err)
	assert.Zero(t, n)
}
