package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/passport/internal/domain/shared"
)

// setupTestRedis creates a Redis client for testing
func setupTestRedis(t *testing.T) *redis.Client {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL environment variable not set, skipping Redis integration tests")
	}

	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err, "Failed to parse Redis URL")

	client := redis.NewClient(opt)

	ctx := context.Background()
	_, err = client.Ping(ctx).Result()
	require.NoError(t, err, "Failed to connect to Redis")

	return client
}

type testProfile struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Kind  string `json:"kind"`
}

func testCollection() string {
	return fmt.Sprintf("test-%d", time.Now().UnixNano())
}

func TestRedisStore_AddAndQuery(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	s := NewRedisStore(client)
	ctx := context.Background()
	collection := testCollection()

	t.Run("should return empty result for unknown value", func(t *testing.T) {
		docs, err := s.QueryByField(ctx, collection, "id", "missing")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("should find document by indexed field", func(t *testing.T) {
		profile := testProfile{ID: "user-1", Email: "a@example.com", Kind: "mail"}

		key, err := s.Add(ctx, collection, profile)
		require.NoError(t, err)
		require.NotEmpty(t, key)

		docs, err := s.QueryByField(ctx, collection, "id", "user-1")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, key, docs[0].Key)

		var got testProfile
		require.NoError(t, docs[0].Decode(&got))
		assert.Equal(t, profile, got)

		// Secondary string fields are queryable too
		byEmail, err := s.QueryByField(ctx, collection, "email", "a@example.com")
		require.NoError(t, err)
		require.Len(t, byEmail, 1)

		// Cleanup
		require.NoError(t, s.DeleteByKey(ctx, collection, key))
	})

	t.Run("should return both documents for duplicate field value", func(t *testing.T) {
		k1, err := s.Add(ctx, collection, testProfile{ID: "dup", Kind: "mail"})
		require.NoError(t, err)
		k2, err := s.Add(ctx, collection, testProfile{ID: "dup", Kind: "google"})
		require.NoError(t, err)

		docs, err := s.QueryByField(ctx, collection, "id", "dup")
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		// Cleanup
		require.NoError(t, s.DeleteByKey(ctx, collection, k1))
		require.NoError(t, s.DeleteByKey(ctx, collection, k2))
	})
}

func TestRedisStore_DeleteByKey(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	s := NewRedisStore(client)
	ctx := context.Background()
	collection := testCollection()

	t.Run("should fail for unknown key", func(t *testing.T) {
		err := s.DeleteByKey(ctx, collection, "no-such-key")
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("should remove document and its index entries", func(t *testing.T) {
		key, err := s.Add(ctx, collection, testProfile{ID: "gone", Kind: "mail"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteByKey(ctx, collection, key))

		docs, err := s.QueryByField(ctx, collection, "id", "gone")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}
