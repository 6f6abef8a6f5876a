package server

import (
	"crypto/subtle"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/audit/masking"
	"github.com/smallbiznis/orderflow/internal/authorization"
	obscontext "github.com/smallbiznis/orderflow/internal/observability/context"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
	HeaderAdminKey       = "X-Admin-Key"
	HeaderWebhookKey     = "X-Webhook-Key"

	contextUserIDKey    = "user_id"
	contextPrincipalKey = "principal"
	contextKeyHintKey   = "admin_key_hint"

	maxUserIDLength = 128

	rateLimitReasonCallerRate = "caller-rate"
)

// UserRequired identifies the shopper from the X-User-ID header set by the
// upstream gateway.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" || len(userID) > maxUserIDLength {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// AdminRequired authenticates the admin surface using a static API key.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderAdminKey))
		if key == "" {
			key = bearerToken(c.GetHeader("Authorization"))
		}
		principal, err := s.authzSvc.Authenticate(c.Request.Context(), key)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextPrincipalKey, principal)
		c.Set(contextKeyHintKey, masking.MaskSecret(key))
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "admin", principal.Subject))
		c.Next()
	}
}

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// WebhookKeyRequired checks the shared secret configured for the payment
// notification sender.
func (s *Server) WebhookKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.WebhookKey)
		provided := strings.TrimSpace(c.GetHeader(HeaderWebhookKey))
		if expected == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "webhook", "payment"))
		c.Next()
	}
}

// CheckoutRateLimit applies the per-caller token bucket. It must run after
// UserRequired.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.checkoutLimiter == nil || !s.checkoutLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res := s.checkoutLimiter.Allow(ctx, userIDFromContext(c))
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if res.Allowed {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		logger.FromContext(ctx).Warn("checkout rate limit exceeded",
			zap.String("reason", rateLimitReasonCallerRate),
			zap.String("endpoint", endpoint),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonCallerRate)
		}

		retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.Header("X-Rate-Limited-Reason", rateLimitReasonCallerRate)
		AbortWithError(c, ErrRateLimited)
	}
}

func userIDFromContext(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextUserIDKey))
}

func principalFromContext(c *gin.Context) (authorization.Principal, bool) {
	raw, ok := c.Get(contextPrincipalKey)
	if !ok {
		return authorization.Principal{}, false
	}
	principal, ok := raw.(authorization.Principal)
	return principal, ok
}

func bearerToken(header string) string {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
