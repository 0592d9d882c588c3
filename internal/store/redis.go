package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/extralife/internal/model"
)

// redisClient is the subset of the go-redis client used by RedisStore
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps the document under a single Redis key. Writes are
// serialized per process only, so run one service instance per key.
type RedisStore struct {
	client redisClient
	key    string
}

// NewRedisStore connects to a Redis server
func NewRedisStore(addr, password string, db int, key string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newRedisStore(rdb, key)
}

func newRedisStore(client redisClient, key string) *RedisStore {
	if key == "" {
		key = "extralife:database"
	}
	return &RedisStore{client: client, key: key}
}

// Read loads the document, creating the default document when the key is absent
func (s *RedisStore) Read(ctx context.Context) (*model.Database, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		db := model.NewDatabase()
		if err := s.Write(ctx, db); err != nil {
			return nil, err
		}
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return decode(data)
}

// Write replaces the document
func (s *RedisStore) Write(ctx context.Context, db *model.Database) error {
	data, err := encode(db)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
