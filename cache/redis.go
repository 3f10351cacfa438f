package cache

import (
	"context"
	"fmt"
	"time"

	"Boombot/config"
	"Boombot/logger"

	"github.com/go-redis/redis/v8"
)

// RedisClient is the global Redis client, nil when Redis is not configured.
var RedisClient *redis.Client

// Client is the subset of the Redis API used by this package.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// ConnectRedis initialises RedisClient and checks the connection.
func ConnectRedis(cfg *config.Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	RedisClient = client
	logger.Info("[Redis] connected",
		logger.String("addr", client.Options().Addr),
		logger.Int("db", cfg.RedisDB))
	return nil
}

// CloseRedis closes the global client.
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
