package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/netdemo/internal/metrics"
	"github.com/osvaldoandrade/netdemo/internal/ratelimit"
	"github.com/osvaldoandrade/netdemo/pkg/config"

	"github.com/gin-gonic/gin"
)

func RateLimitSubmit(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimit(lim, "submit", "submit_job", cfg.RateLimit.Submit)
}

// rateLimit keys buckets by bearer token, falling back to the client IP when
// auth is disabled.
func rateLimit(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateLimitBucket) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		subject := bearerToken(c.GetHeader("Authorization"))
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}

		dec, err := lim.Allow(c.Request.Context(), scope, subject, bucket)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			slog.Default().Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(bucket.BurstSize))
		if dec.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", "0")

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate limit exceeded",
			"scope":               scope,
			"operation":           operation,
			"retry_after_seconds": retryAfterSeconds,
		})
	}
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
