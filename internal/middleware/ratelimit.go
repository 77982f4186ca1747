package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/pkg/response"
)

type RateLimiter struct {
	redis *redis.Client
	log   *zerolog.Logger
}

// NewRateLimiter creates a redis-backed limiter. A nil client disables limiting.
func NewRateLimiter(redisClient *redis.Client, logger *zerolog.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RateLimiter{redis: redisClient, log: logging.Component(logger, "ratelimit")}
}

// Limit creates a fixed-window rate limiting middleware keyed by account
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		account := strings.ToLower(GetAccount(c))
		if rl.redis == nil || account == "" || maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, account)
		ctx := context.Background()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// If Redis fails, allow the request
			rl.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
			return c.Next()
		}

		// Set expiration on first request
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// SubmitLimit limits generation submissions per hour
func (rl *RateLimiter) SubmitLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("submit", maxPerHour, time.Hour)
}
