package mpesa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const tokenCachePrefix = "mpesa:token:"

// RedisTokenCache keeps gateway tokens in Redis until shortly before they expire.
type RedisTokenCache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisTokenCache(client *redis.Client, logger *zap.Logger) *RedisTokenCache {
	return &RedisTokenCache{client: client, logger: logger}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	token, err := c.client.Get(ctx, tokenCachePrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("token cache read failed", zap.Error(err))
		}
		return "", false
	}
	return token, token != ""
}

func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	if err := c.client.Set(ctx, tokenCachePrefix+key, token, ttl).Err(); err != nil {
		c.logger.Warn("token cache write failed", zap.Error(err))
	}
}

// hashKey keeps the consumer key out of Redis key names.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
