package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// artistKeyTTL 하루치 키는 다음 날까지만 보관
const artistKeyTTL = 48 * time.Hour

// RedisClient 일별 참여 작가 집합을 Redis SET 으로 관리한다
type RedisClient struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient creates a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	logger.Info("redis connected", zap.String("addr", addr))
	return &RedisClient{client: client, logger: logger}, nil
}

func artistKey(day string) string {
	return "canvas:artists:" + day
}

// Add 해당 날짜 작가 집합에 추가
func (r *RedisClient) Add(ctx context.Context, day, userID string) error {
	key := artistKey(day)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, artistKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to record artist", zap.String("day", day), zap.Error(err))
		return err
	}
	return nil
}

// Count 해당 날짜의 서로 다른 작가 수
func (r *RedisClient) Count(ctx context.Context, day string) (int64, error) {
	return r.client.SCard(ctx, artistKey(day)).Result()
}

// Health checks if Redis is reachable
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
