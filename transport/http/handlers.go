package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService       *service.AuthService
	enrollmentService *service.EnrollmentService
	logger            *slog.Logger
	now               func() time.Time
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, enrollmentService *service.EnrollmentService, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService:       authService,
		enrollmentService: enrollmentService,
		logger:            logger,
		now:               time.Now,
	}
}

type codeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestEnrollmentCode sends a one-time code to an unregistered address
func (h *AuthHandlers) RequestEnrollmentCode(c *gin.Context) {
	h.requestCode(c, core.PurposeEnrollment)
}

// RequestResetCode sends a one-time code to a registered address. Unknown
// addresses get the same response.
func (h *AuthHandlers) RequestResetCode(c *gin.Context) {
	h.requestCode(c, core.PurposeCredentialReset)
}

func (h *AuthHandlers) requestCode(c *gin.Context, purpose core.Purpose) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c)
		return
	}

	if err := h.enrollmentService.RequestCode(c.Request.Context(), purpose, req.Email); err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Code sent"})
}

// Register creates an account once the enrollment code is confirmed
func (h *AuthHandlers) Register(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		Code        string `json:"code" binding:"required,numeric"`
		DisplayName string `json:"display_name" binding:"required,max=128"`
		Password    string `json:"password" binding:"required,min=8,max=72"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c)
		return
	}

	profile, err := h.enrollmentService.Register(c.Request.Context(), service.RegisterInput{
		Email:       req.Email,
		Code:        req.Code,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": profile})
}

// ResetPassword replaces the password of the address the code was sent to
func (h *AuthHandlers) ResetPassword(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Code     string `json:"code" binding:"required,numeric"`
		Password string `json:"password" binding:"required,min=8,max=72"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c)
		return
	}

	err := h.enrollmentService.ResetPassword(c.Request.Context(), service.ResetInput{
		Email:    req.Email,
		Code:     req.Code,
		Password: req.Password,
	})
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password reset"})
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c)
		return
	}

	session, err := h.authService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, h.sessionResponse(session))
}

// Logout revokes the presented credential
func (h *AuthHandlers) Logout(c *gin.Context) {
	claims, ok := RequireClaims(c)
	if !ok {
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// DeleteAccount removes the principal and revokes the presented credential
func (h *AuthHandlers) DeleteAccount(c *gin.Context) {
	claims, ok := RequireClaims(c)
	if !ok {
		return
	}

	if err := h.authService.DeleteAccount(c.Request.Context(), claims); err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
}

// ChangePassword swaps the password and returns a fresh session
func (h *AuthHandlers) ChangePassword(c *gin.Context) {
	claims, ok := RequireClaims(c)
	if !ok {
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c)
		return
	}

	session, err := h.authService.ChangePassword(c.Request.Context(), claims, req.CurrentPassword, req.NewPassword)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, h.sessionResponse(session))
}

// UpdateProfile renames the authenticated principal
func (h *AuthHandlers) UpdateProfile(c *gin.Context) {
	claims, ok := RequireClaims(c)
	if !ok {
		return
	}

	var req struct {
		DisplayName string `json:"display_name" binding:"required,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c)
		return
	}

	profile, err := h.authService.Rename(c.Request.Context(), claims, req.DisplayName)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	claims, ok := RequireClaims(c)
	if !ok {
		return
	}

	profile, err := h.authService.Me(c.Request.Context(), claims)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":       profile,
		"expires_at": claims.ExpiresAt.UTC(),
	})
}

func (h *AuthHandlers) sessionResponse(session *core.Session) gin.H {
	expiresIn := int64(session.ExpiresAt.Sub(h.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return gin.H{
		"token":      session.Token,
		"token_type": "Bearer",
		"expires_at": session.ExpiresAt.UTC(),
		"expires_in": expiresIn,
		"user":       session.Profile,
	}
}
