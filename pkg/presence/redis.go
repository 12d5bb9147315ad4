package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds connection and expiry settings for the Redis-backed cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache is a distributed presence cache for deployments where several
// backend replicas share liveness state.
type RedisCache struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewRedisCache creates and connects a new RedisCache.
func NewRedisCache(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for presence cache: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for presence cache.")

	return &RedisCache{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisCache").Logger(),
		ttl:         cfg.TTL,
	}, nil
}

func presenceKey(sensorID string) string {
	return "presence:" + sensorID
}

// Set marshals the record to JSON and stores it in Redis with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, sensorID string, record Record) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record for sensor %s: %w", sensorID, err)
	}
	if err := c.redisClient.Set(ctx, presenceKey(sensorID), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence in redis for sensor %s: %w", sensorID, err)
	}
	return nil
}

// Fetch retrieves and unmarshals a record from Redis.
func (c *RedisCache) Fetch(ctx context.Context, sensorID string) (Record, error) {
	var zero Record
	cachedData, err := c.redisClient.Get(ctx, presenceKey(sensorID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("sensor '%s' not found in presence cache", sensorID)
		}
		return zero, fmt.Errorf("redis get failed for sensor %s: %w", sensorID, err)
	}
	var record Record
	if err := json.Unmarshal([]byte(cachedData), &record); err != nil {
		return zero, fmt.Errorf("failed to unmarshal presence record for sensor %s: %w", sensorID, err)
	}
	return record, nil
}

// Delete removes a sensor's record from Redis.
func (c *RedisCache) Delete(ctx context.Context, sensorID string) error {
	if err := c.redisClient.Del(ctx, presenceKey(sensorID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed for sensor %s: %w", sensorID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.redisClient.Close()
}
