package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

// Needs a live server: LEDGER_TEST_REDIS_ADDR=localhost:6379 go test ./internal/repository
func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	key := "invoice-ledger:test:" + uuid.NewString()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = client.Del(ctx, key).Err()
		_ = client.Close()
	})
	s := NewRedisStoreFromClient(client, key, discardLogger())
	require.NoError(t, s.Ping(ctx))

	_, err := s.Load(ctx)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	want := sampleState()
	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRedisStore_Unreachable(t *testing.T) {
	s := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1", Key: "k"}, discardLogger())
	defer s.Close()

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrPersistence))
}
