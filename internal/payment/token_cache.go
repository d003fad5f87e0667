package payment

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TokenCache caches provider auth tokens in Redis so restarts and replicas
// share one token instead of each minting their own. Falls back to a
// process-local copy when Redis is not configured or unreachable.
type TokenCache struct {
	rdb    *redis.Client
	key    string
	logger *logrus.Logger

	mu        sync.Mutex
	memToken  string
	memExpiry time.Time
}

// NewTokenCache creates a token cache under the given Redis key.
// rdb may be nil; the cache then only keeps the process-local copy.
func NewTokenCache(rdb *redis.Client, key string, logger *logrus.Logger) *TokenCache {
	return &TokenCache{rdb: rdb, key: key, logger: logger}
}

// Get returns a cached token, preferring Redis over the local copy
func (c *TokenCache) Get(ctx context.Context) (string, bool) {
	if c.rdb != nil {
		token, err := c.rdb.Get(ctx, c.key).Result()
		if err == nil && token != "" {
			return token, true
		}
		if err != nil && err != redis.Nil {
			c.logger.WithError(err).WithField("key", c.key).Warn("Token cache read failed, using local copy")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memToken != "" && time.Now().Before(c.memExpiry) {
		return c.memToken, true
	}
	return "", false
}

// Put stores the token for ttl in both Redis and the local copy
func (c *TokenCache) Put(ctx context.Context, token string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.memToken = token
	c.memExpiry = time.Now().Add(ttl)
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, c.key, token, ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("key", c.key).Warn("Token cache write failed")
		}
	}
}
