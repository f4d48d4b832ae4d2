package vectorstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCollectionName(t *testing.T) {
	name := CollectionName("3f2a9c0d1e4b5a67", "text-embedding-3-large")
	assert.Equal(t, "rsrisk_3f2a9c0d1e4b5a67_text_embedding_3_large", name)
	assert.NoError(t, ValidateCollectionName(name))

	long := CollectionName("3f2a9c0d1e4b5a67", strings.Repeat("Model/Name.", 10))
	assert.Len(t, long, 64)
	assert.NoError(t, ValidateCollectionName(long))
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("rsrisk_ok_1"))
	assert.ErrorIs(t, ValidateCollectionName(""), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("UPPER"), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("../escape"), ErrInvalidCollectionName)
}

func TestRetrier(t *testing.T) {
	transient := status.Error(grpccodes.Unavailable, "busy")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		r := newRetrier(3, time.Millisecond, 10)
		calls := 0
		err := r.do(context.Background(), "op", func() error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		r := newRetrier(2, time.Millisecond, 10)
		calls := 0
		err := r.do(context.Background(), "op", func() error {
			calls++
			return transient
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "after 2 retries")
	})

	t.Run("circuit opens and recovers after cooldown", func(t *testing.T) {
		now := time.Unix(1000, 0)
		r := newRetrier(0, time.Millisecond, 2)
		r.now = func() time.Time { return now }

		for i := 0; i < 2; i++ {
			_ = r.do(context.Background(), "op", func() error { return transient })
		}
		err := r.do(context.Background(), "op", func() error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "circuit breaker open")

		now = now.Add(31 * time.Second)
		assert.NoError(t, r.do(context.Background(), "op", func() error { return nil }))
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		r := newRetrier(5, time.Hour, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := r.do(ctx, "op", func() error { return transient })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
