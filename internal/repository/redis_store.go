package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
)

// RedisConfig addresses a single Redis key holding the aggregate.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Key         string
	DialTimeout time.Duration
}

// RedisStore keeps the whole aggregate as one JSON value. SET replaces it
// atomically, so readers never observe a partial write.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

var _ ledger.Store = (*RedisStore)(nil)

func NewRedisStore(cfg RedisConfig, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return NewRedisStoreFromClient(client, cfg.Key, logger)
}

func NewRedisStoreFromClient(client *redis.Client, key string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, key: key, logger: logger.With("store", "redis", "key", key)}
}

func (s *RedisStore) Load(ctx context.Context) (entity.LedgerState, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.NewLedgerState(), fmt.Errorf("%w: redis key %s", common.ErrNotFound, s.key)
	}
	if err != nil {
		return entity.NewLedgerState(), fmt.Errorf("%w: redis get: %w", common.ErrPersistence, err)
	}

	var state entity.LedgerState
	if err := json.Unmarshal(b, &state); err != nil {
		return entity.NewLedgerState(), fmt.Errorf("%w: decode redis value: %w", common.ErrPersistence, err)
	}
	state.Normalize()
	return state, nil
}

func (s *RedisStore) Save(ctx context.Context, state entity.LedgerState) error {
	state.Normalize()
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode state: %w", common.ErrPersistence, err)
	}
	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %w", common.ErrPersistence, err)
	}
	s.logger.Debug("ledger.redis.saved", "bytes", len(b))
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %w", common.ErrPersistence, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
