package middleware

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/hostelsync-api/pkg/cache"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/response"
)

// Limiter takes one token from the bucket named by key.
type Limiter interface {
	Take(ctx context.Context, key string) (cache.Decision, error)
	Capacity() int
}

// RateLimit applies a token bucket per caller and route. Callers are keyed by
// user id when authenticated and by client IP otherwise. Limiter errors fail open.
func RateLimit(limiter Limiter, prefix string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := rateKey(c, prefix)
		decision, err := limiter.Take(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Capacity()))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			secs := int(math.Ceil(decision.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			logger.Debug("rate limited", zap.String("key", key))
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

func rateKey(c *gin.Context, prefix string) string {
	caller := "ip:" + c.ClientIP()
	if principal := PrincipalFrom(c); principal != nil {
		caller = "user:" + strconv.FormatInt(principal.UserID, 10)
	}
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return strings.Join([]string{prefix, caller, c.Request.Method + " " + route}, ":")
}
