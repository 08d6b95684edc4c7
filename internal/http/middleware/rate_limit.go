package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"issue-service/internal/cache"
)

type Limiter interface {
	Allow(ctx context.Context, subject string) (cache.Decision, error)
}

// RateLimit caps requests per authenticated user. A limiter failure lets the
// request through.
func RateLimit(limiter Limiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := MustPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "principal missing"})
			return
		}

		decision, err := limiter.Allow(c.Request.Context(), principal.UserID.String())
		if err != nil {
			log.Warn().Err(err).Str("user_id", principal.UserID.String()).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		remaining := decision.Limit - decision.Count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !decision.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(decision.RetryAfter.Seconds()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "daily submission limit reached"})
			return
		}
		c.Next()
	}
}
