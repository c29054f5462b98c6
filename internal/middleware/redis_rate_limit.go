package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// windowScript counts a request in the current one minute window.
// Returns {allowed, remaining}.
var windowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('EXPIRE', KEYS[1], 60)
	end

	local limit = tonumber(ARGV[1])
	if current > limit then
		return {0, 0}
	end
	return {1, limit - current}
`)

// RedisRateLimit limits requests per client IP with a per-minute window shared through Redis,
// so every server instance enforces the same budget. A Redis failure lets the request through.
func RedisRateLimit(redisClient *redis.Client, requestsPerMinute, burstSize int, logger *zap.Logger) gin.HandlerFunc {
	limit := requestsPerMinute + burstSize

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		now := time.Now()
		resetTime := (now.Unix()/60 + 1) * 60

		allowed, remaining, err := checkWindow(c.Request.Context(), redisClient, clientIP, now, limit)
		if err != nil {
			logger.Error("Rate limit check failed", zap.Error(err), zap.String("client_ip", clientIP))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			c.Header("Retry-After", strconv.FormatInt(resetTime-now.Unix(), 10))
			abortWithCode(c, model.CodeTooManyRequests, "Rate limit exceeded. Try again later.")
			return
		}

		c.Next()
	}
}

func checkWindow(ctx context.Context, redisClient *redis.Client, clientIP string, now time.Time, limit int) (bool, int, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", clientIP, now.Unix()/60)

	result, err := windowScript.Run(ctx, redisClient, []string{key}, limit).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply %v", result)
	}

	allowed, _ := result[0].(int64)
	remaining, _ := result[1].(int64)
	return allowed == 1, int(remaining), nil
}
