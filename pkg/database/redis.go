package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"callcore-backend/pkg/config"
)

// RedisDB connection wrapper
type RedisDB struct {
	Client *redis.Client
}

// NewRedisDB creates a new Redis client
func NewRedisDB(cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDB{Client: client}, nil
}

// Close closes the Redis connection
func (db *RedisDB) Close() error {
	return db.Client.Close()
}

// Ping tests the Redis connection
func (db *RedisDB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx).Err()
}

// Publish publishes a message to a channel (for Pub/Sub)
func (db *RedisDB) Publish(ctx context.Context, channel string, message interface{}) error {
	return db.Client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels (returns PubSub object)
func (db *RedisDB) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return db.Client.Subscribe(ctx, channels...)
}
