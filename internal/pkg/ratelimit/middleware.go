package ratelimit

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. Keys are scoped by prefix + caller address so different route
// groups track separate windows for the same client.
func Middleware(l *Limiter, prefix string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := prefix + ":" + c.IP()
		ok, resetAt := l.Allow(key)
		if !ok {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
		}
		return c.Next()
	}
}
