package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creatorquota/internal/auth"
	obscontext "github.com/smallbiznis/creatorquota/internal/observability/context"
	"github.com/smallbiznis/creatorquota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creatorquota/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	contextUserIDKey = "user_id"

	rateLimitReasonIPRate = "ip-rate"
)

// AuthRequired resolves the bearer token into the request's user id.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, auth.ErrMissingToken)
			return
		}

		principal, err := s.verifier.Verify(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, principal.UserID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), principal.UserID))
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextUserIDKey))
}

// IPRateLimit throttles requests per client address. A nil limiter disables it.
func (s *Server) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		decision, err := s.limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("ip rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(ctx).Warn("ip rate limit exceeded",
				zap.String("reason", rateLimitReasonIPRate),
				zap.String("endpoint", endpoint),
			)
			recordRateLimitDenied(ctx, endpoint, rateLimitReasonIPRate, s.metrics)

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonIPRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.metrics)
		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if route := strings.TrimSpace(c.FullPath()); route != "" {
		return route
	}
	return "unknown"
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}
