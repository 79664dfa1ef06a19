package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passage/core"
)

// Machine readable error codes carried in every error response
const (
	CodeInvalidRequest     = core.CodeInvalidRequest
	CodeInvalidCredentials = core.CodeInvalidCredentials
	CodeInvalidToken       = core.CodeInvalidToken
	CodeExpired            = core.CodeExpired
	CodeRevoked            = core.CodeRevoked
	CodeAlreadyRegistered  = core.CodeAlreadyRegistered
	CodeInvalidCode        = core.CodeInvalidCode
	CodeCodeExpired        = core.CodeCodeExpired
	CodeCodeConsumed       = core.CodeCodeConsumed
	CodeRateLimited        = core.CodeRateLimited
	CodeDeliveryFailed     = core.CodeDeliveryFailed
	CodeNotFound           = core.CodeNotFound
	CodeUnavailable        = core.CodeUnavailable
	CodeInternal           = core.CodeInternal
)

// retryAfterSeconds is advertised when a backing store is down
const retryAfterSeconds = "5"

type apiError struct {
	status  int
	code    string
	message string
}

// classify maps a domain error to its fixed response. Internal causes never
// reach the message.
func classify(err error) apiError {
	switch {
	case errors.Is(err, core.ErrStoreUnavailable):
		return apiError{http.StatusServiceUnavailable, CodeUnavailable, "Service temporarily unavailable"}
	case errors.Is(err, core.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password"}
	case errors.Is(err, core.ErrMalformed), errors.Is(err, core.ErrBadSignature):
		return apiError{http.StatusUnauthorized, CodeInvalidToken, "Invalid token"}
	case errors.Is(err, core.ErrExpired):
		return apiError{http.StatusUnauthorized, CodeExpired, "Token expired"}
	case errors.Is(err, core.ErrRevoked):
		return apiError{http.StatusUnauthorized, CodeRevoked, "Token has been revoked"}
	case errors.Is(err, core.ErrAlreadyRegistered):
		return apiError{http.StatusConflict, CodeAlreadyRegistered, "Address already registered"}
	case errors.Is(err, core.ErrChallengeNotFound), errors.Is(err, core.ErrChallengeMismatch):
		return apiError{http.StatusBadRequest, CodeInvalidCode, "Invalid code"}
	case errors.Is(err, core.ErrChallengeExpired):
		return apiError{http.StatusGone, CodeCodeExpired, "Code expired"}
	case errors.Is(err, core.ErrChallengeConsumed):
		return apiError{http.StatusConflict, CodeCodeConsumed, "Code already used"}
	case errors.Is(err, core.ErrRateLimited):
		return apiError{http.StatusTooManyRequests, CodeRateLimited, "Too many requests"}
	case errors.Is(err, core.ErrDeliveryFailed):
		return apiError{http.StatusBadGateway, CodeDeliveryFailed, "Failed to send code"}
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrInvalidPurpose):
		return apiError{http.StatusBadRequest, CodeInvalidRequest, "Invalid request"}
	case errors.Is(err, core.ErrPrincipalNotFound):
		return apiError{http.StatusNotFound, CodeNotFound, "Account not found"}
	default:
		return apiError{http.StatusInternalServerError, CodeInternal, "Internal error"}
	}
}

// abortWithError writes the mapped response and logs the cause for server-side faults
func abortWithError(c *gin.Context, logger *slog.Logger, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			slog.Any("error", err),
		)
	}
	if e.status == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfterSeconds)
	}
	c.AbortWithStatusJSON(e.status, gin.H{"error": e.message, "code": e.code})
}

func abortInvalidRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": CodeInvalidRequest})
}
