package middleware

import (
	"time"

	"voiceplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimit applies a fixed-window counter in redis. keyFn derives the
// counter key from the request; an empty key skips limiting. Redis outages
// fail open so the limiter never takes the API down with it.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			zap.L().Warn("rate limit counter unavailable", zap.Error(err))
			c.Next()
			return
		}

		if count == 1 {
			if err := rdb.Expire(ctx, key, window).Err(); err != nil {
				zap.L().Warn("rate limit expire failed", zap.String("key", key), zap.Error(err))
			}
		}

		if count > int64(limit) {
			_ = c.Error(errutil.TooManyRequest("rate limit exceeded"))
			c.Abort()
			return
		}

		c.Next()
	}
}
