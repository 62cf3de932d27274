package httpgin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/auth"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
)

const identityKey = "identity"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		c.Writer.Header().Set("X-Request-ID", reqID)
		c.Set("request_id", reqID)

		c.Next()
	}
}

// CORS allows the listed origins, or any origin when the list is empty.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "PATCH", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"X-Request-ID",
			"Idempotency-Key",
			"If-None-Match",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"ETag",
			"Cache-Control",
			"Retry-After",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}

	return cors.New(cfg)
}

func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		reqID, _ := c.Get("request_id")

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", reqID),
			slog.Duration("latency", time.Since(start)),
			slog.Int("bytes_out", c.Writer.Size()),
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("err", c.Errors.String()))
			logger.Error("http", slog.Group("http", attrs...))
			return
		}
		logger.Info("http", slog.Group("http", attrs...))
	}
}

// Timeout bounds the request context. Handlers that outlive it fail with
// context.DeadlineExceeded from the store.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Authenticate reads an optional bearer token. Requests without one are
// anonymous; a token that does not verify is rejected.
func Authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortWith(c, http.StatusUnauthorized, ErrorResponse{
				Error: "malformed authorization header", Kind: kindUnauthorized, Code: "Unauthorized",
			})
			return
		}

		id, err := auth.ParseToken(strings.TrimSpace(token), secret)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, ErrorResponse{
				Error: "invalid token", Kind: kindUnauthorized, Code: "Unauthorized",
			})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAdmin rejects anonymous callers with 401 and members with 403.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		switch {
		case id.Anonymous():
			abortWith(c, http.StatusUnauthorized, ErrorResponse{
				Error: "authentication required", Kind: kindUnauthorized, Code: "Unauthorized",
			})
		case !id.IsAdmin():
			abortWith(c, http.StatusForbidden, ErrorResponse{
				Error: "admin role required", Kind: kindForbidden, Code: "Forbidden",
			})
		default:
			c.Next()
		}
	}
}

func identity(c *gin.Context) auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}
	}
	id, _ := v.(auth.Identity)
	return id
}

// RateLimit admits a bounded number of requests per client IP. A nil
// limiter or an unreachable Redis lets every request through.
func RateLimit(limiter *redisrepo.SlidingWindowLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		d, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", slog.Any("err", err))
			c.Next()
			return
		}
		if !d.Allowed {
			secs := max(1, int(d.RetryAfter.Round(time.Second)/time.Second))
			c.Header("Retry-After", strconv.Itoa(secs))
			abortWith(c, http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limited", Kind: kindTooMany, Code: "RateLimited",
			})
			return
		}

		c.Next()
	}
}
