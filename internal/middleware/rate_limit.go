package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// HitCounter counts requests per key within a fixed window. The returned
// count includes the current hit.
type HitCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisHitCounter backs the rate limiter with a shared Redis counter so the
// limit holds across server instances.
type RedisHitCounter struct {
	client *redis.Client
}

// NewRedisHitCounter creates a counter on the given client
func NewRedisHitCounter(client *redis.Client) *RedisHitCounter {
	return &RedisHitCounter{client: client}
}

// Hit increments the key and stamps the window expiry on first use
func (r *RedisHitCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count rate limit hit: %w", err)
	}
	return incr.Val(), nil
}

// RateLimit rejects a client IP that exceeds maxRequests within window.
// Intended for unauthenticated endpoints such as payment webhooks. Counter
// failures let the request through; webhooks must not be dropped because
// Redis is down.
func RateLimit(counter HitCounter, maxRequests int64, window time.Duration, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + c.FullPath() + ":" + c.ClientIP()

		count, err := counter.Hit(c.Request.Context(), key, window)
		if err != nil {
			logger.WithError(err).Warn("Rate limit counter unavailable, allowing request")
			c.Next()
			return
		}

		if count > maxRequests {
			c.Header("Retry-After", strconv.FormatInt(int64(window.Seconds()), 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
				"code":    "RATE_LIMITED",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
