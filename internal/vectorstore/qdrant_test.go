package vectorstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
)

type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]uint64
	upserts     []*qdrant.UpsertPoints
	queries     []*qdrant.QueryPoints
	queryResult []*qdrant.ScoredPoint
	queryErrs   []error
	closed      bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: make(map[string]uint64)}
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[req.CollectionName] = 0
	return nil
}

func (f *fakeQdrant) DeleteCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, req)
	f.collections[req.CollectionName] += uint64(len(req.Points))
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	if len(f.queryErrs) > 0 {
		err := f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
		return nil, err
	}
	return f.queryResult, nil
}

func (f *fakeQdrant) Count(_ context.Context, req *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[req.CollectionName], nil
}

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func newTestQdrantStore(client qdrantClient) *QdrantStore {
	cfg := QdrantConfig{RetryBackoff: time.Millisecond}
	cfg.ApplyDefaults()
	return newQdrantStore(client, cfg, nil)
}

func TestQdrantStore_UpsertCreatesCollection(t *testing.T) {
	fake := newFakeQdrant()
	s := newTestQdrantStore(fake)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "rsrisk_q", testDocs()))

	require.Len(t, fake.upserts, 1)
	req := fake.upserts[0]
	assert.True(t, req.GetWait())
	require.Len(t, req.Points, 3)
	assert.Equal(t, "lifeboat", req.Points[0].Payload[payloadContent].GetStringValue())
	assert.Equal(t, "High", req.Points[0].Payload["label"].GetStringValue())
	assert.Equal(t, pointID("1"), req.Points[0].Id.GetUuid())

	n, err := s.Count(ctx, "rsrisk_q")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.DeleteCollection(ctx, "rsrisk_q"))
	n, err = s.Count(ctx, "rsrisk_q")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Close())
	assert.True(t, fake.closed)
}

func TestQdrantStore_Query(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["rsrisk_q"] = 2
	fake.queryResult = []*qdrant.ScoredPoint{
		{Score: 0.91, Payload: map[string]*qdrant.Value{
			payloadContent: qdrant.NewValueString("lifeboat davit"),
			payloadID:      qdrant.NewValueString("7"),
			"label":        qdrant.NewValueString("High"),
		}},
		{Score: 0.1, Payload: map[string]*qdrant.Value{payloadContent: qdrant.NewValueString("below")}},
	}
	s := newTestQdrantStore(fake)

	res, err := s.Query(context.Background(), "rsrisk_q", []float32{1, 0}, 3, 0.25)
	require.NoError(t, err)

	require.Len(t, res, 1)
	assert.Equal(t, SearchResult{
		ID:       "7",
		Content:  "lifeboat davit",
		Score:    0.91,
		Metadata: map[string]string{"label": "High"},
	}, res[0])

	require.Len(t, fake.queries, 1)
	assert.Equal(t, uint64(3), fake.queries[0].GetLimit())
	assert.InDelta(t, 0.25, fake.queries[0].GetScoreThreshold(), 1e-6)
}

func TestQdrantStore_QueryMissingCollection(t *testing.T) {
	fake := newFakeQdrant()
	s := newTestQdrantStore(fake)

	res, err := s.Query(context.Background(), "rsrisk_none", []float32{1}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Empty(t, fake.queries)
}

func TestQdrantStore_QueryRetriesTransientErrors(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["rsrisk_q"] = 1
	fake.queryErrs = []error{status.Error(grpccodes.Unavailable, "down")}
	s := newTestQdrantStore(fake)

	_, err := s.Query(context.Background(), "rsrisk_q", []float32{1}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, fake.queries, 2)

	fake.queryErrs = []error{status.Error(grpccodes.InvalidArgument, "bad vector")}
	_, err = s.Query(context.Background(), "rsrisk_q", []float32{1}, 1, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permanent")
}

func TestPointID(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, id, pointID(id))

	derived := pointID("rsrisk_abc:4")
	_, err := uuid.Parse(derived)
	require.NoError(t, err)
	assert.Equal(t, derived, pointID("rsrisk_abc:4"), "derivation is stable")
	assert.NotEqual(t, derived, pointID("rsrisk_abc:5"))
}

func TestOpen_UnknownProvider(t *testing.T) {
	_, err := Open(context.Background(), config.VectorStoreConfig{Provider: "redis"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpen_Chromem(t *testing.T) {
	s, err := Open(context.Background(), config.VectorStoreConfig{Provider: "chromem", Path: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)
}

func TestQdrantConfig_Validate(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())

	cfg.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "x")))
	assert.True(t, IsTransientError(status.Error(grpccodes.ResourceExhausted, "x")))
	assert.False(t, IsTransientError(status.Error(grpccodes.NotFound, "x")))
	assert.False(t, IsTransientError(errors.New("plain")))
	assert.False(t, IsTransientError(nil))
}
