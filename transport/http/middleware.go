package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passage/core"
)

const claimsKey = "passage.claims"

// Verifier checks a raw bearer credential
type Verifier interface {
	Verify(ctx context.Context, raw string) (*core.Claims, error)
}

// AuthMiddleware creates middleware that validates bearer tokens. The token
// is handed to the verifier unparsed.
func AuthMiddleware(verifier Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header", "code": CodeInvalidToken})
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), strings.TrimSpace(auth[len(prefix):]))
		if err != nil {
			abortWithError(c, logger, err)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the verified claims stored by AuthMiddleware
func ClaimsFrom(c *gin.Context) (*core.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*core.Claims)
	return claims, ok && claims != nil
}

// RequireClaims returns the verified claims or aborts the request. A protected
// handler reached without claims is a wiring fault, never an anonymous call.
func RequireClaims(c *gin.Context) (*core.Claims, bool) {
	claims, ok := ClaimsFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "code": CodeInvalidToken})
		return nil, false
	}
	return claims, true
}

// RequestLogger logs one line per request. Headers and bodies are not logged.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if claims, ok := ClaimsFrom(c); ok {
			attrs = append(attrs, slog.String("subject_id", claims.SubjectID))
		}
		logger.LogAttrs(c.Request.Context(), level, "request", attrs...)
	}
}
