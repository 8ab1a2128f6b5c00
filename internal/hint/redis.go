package hint

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig selects the redis server holding hints.
type RedisConfig struct {
	Addr      string
	DB        int
	Password  string
	KeyPrefix string
}

// RedisStore keeps hints as plain string keys in redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore. The connection is established lazily.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pdfquery:hint:"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &RedisStore{rdb: rdb, prefix: prefix, logger: logger}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (string, error) {
	id, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		s.logger.Debug("hint GET failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("redis get hint: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Save(ctx context.Context, key, id string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, id, 0).Err(); err != nil {
		s.logger.Debug("hint SET failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set hint: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del hint: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
