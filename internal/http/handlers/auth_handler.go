// Auth HTTP handlers.
//
// This file exposes the credential endpoints:
//   - POST /auth/register
//   - POST /auth/login
//   - GET  /auth/profile
//   - PUT  /auth/profile
//   - PUT  /auth/password
//   - POST /auth/logout
//
// Handlers are transport-thin: they decode JSON, call the AuthService, and
// translate its typed errors into the error envelope.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonbobo/Capstone-UNY/internal/auth"
	"github.com/jonbobo/Capstone-UNY/internal/bridge"
	"github.com/jonbobo/Capstone-UNY/internal/domain"
	"github.com/jonbobo/Capstone-UNY/internal/http/middleware"
	"github.com/jonbobo/Capstone-UNY/internal/services"
)

//
// Service contracts (context-aware)
//

// AuthService defines the credential flows consumed by HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*services.Session, error)
	Login(ctx context.Context, login, password string) (*services.Session, error)
	Profile(ctx context.Context, userID uint) (*domain.User, error)
	UpdateEmail(ctx context.Context, userID uint, email string) (*domain.User, error)
	ChangePassword(ctx context.Context, userID uint, current, next string) error
}

// Chatbot forwards questions to the worker process.
type Chatbot interface {
	Ask(ctx context.Context, question string, caller auth.Identity) (*bridge.Answer, error)
	Status(ctx context.Context) bridge.StatusReport
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints.
type Handlers struct {
	authSvc AuthService
	chatbot Chatbot
	now     func() time.Time
}

// New constructs Handlers bound to the given services.
func New(authSvc AuthService, chatbot Chatbot) *Handlers {
	return &Handlers{authSvc: authSvc, chatbot: chatbot, now: time.Now}
}

// identity returns the caller established by RequireAuth. A missing identity
// means the route was mounted without the guard; the request is refused.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "access token required")
	}
	return id, found
}

//
// DTOs
//

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Username string `json:"username" example:"ava"`
	Email    string `json:"email" example:"ava@example.com"`
	Password string `json:"password" example:"hunter22"`
}

// LoginRequest is the JSON payload for signing in. Username accepts either a
// username or an email address.
type LoginRequest struct {
	Username string `json:"username" example:"ava"`
	Password string `json:"password" example:"hunter22"`
}

// UpdateProfileRequest is the JSON payload for changing the email address.
type UpdateProfileRequest struct {
	Email string `json:"email" example:"ava@new.example.com"`
}

// ChangePasswordRequest is the JSON payload for changing the password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" example:"hunter22"`
	NewPassword     string `json:"newPassword" example:"correct-horse"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Message   string            `json:"message" example:"Login successful"`
	User      domain.PublicUser `json:"user"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// ProfileResponse wraps the caller's account.
type ProfileResponse struct {
	User domain.PublicUser `json:"user"`
}

// ProfileUpdateResponse is returned after an email change.
type ProfileUpdateResponse struct {
	Message string            `json:"message" example:"Profile updated successfully"`
	User    domain.PublicUser `json:"user"`
}

// MessageResponse carries a confirmation message only.
type MessageResponse struct {
	Message string `json:"message" example:"Password updated successfully"`
}

//
// Handlers
//

// Register godoc
// @ID          register
// @Summary     Create an account
// @Description Registers a new user and returns a session token. Usernames may not contain '@'.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "Account details"
// @Success     201   {object}  handlers.AuthResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed or identifier taken"
// @Failure     429   {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	sess, err := h.authSvc.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		authFailure(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Uint("user_id", sess.User.ID).Msg("user registered")

	ok(c, http.StatusCreated, AuthResponse{
		Message:   "User registered successfully",
		User:      sess.User.Public(),
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

// Login godoc
//
// Failure bodies echo request_id, so they are byte-identical only across
// requests that carry the same X-Request-ID.
//
// @ID          login
// @Summary     Sign in
// @Description Authenticates by username or email. Unknown accounts and wrong passwords get the same response.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  handlers.AuthResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Missing field"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     429   {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	sess, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		authFailure(c, err)
		return
	}

	ok(c, http.StatusOK, AuthResponse{
		Message:   "Login successful",
		User:      sess.User.Public(),
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Current account
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ProfileResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing token"
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	id, found := identity(c)
	if !found {
		return
	}
	u, err := h.authSvc.Profile(c.Request.Context(), id.UserID)
	if err != nil {
		authFailure(c, err)
		return
	}
	ok(c, http.StatusOK, ProfileResponse{User: u.Public()})
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Change email address
// @Description Setting the current address again succeeds without change.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UpdateProfileRequest  true  "New email"
// @Success     200   {object}  handlers.ProfileUpdateResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed or email taken"
// @Failure     401   {object}  handlers.ErrorResponse  "Missing token"
// @Failure     403   {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	id, found := identity(c)
	if !found {
		return
	}
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	u, err := h.authSvc.UpdateEmail(c.Request.Context(), id.UserID, req.Email)
	if err != nil {
		authFailure(c, err)
		return
	}
	ok(c, http.StatusOK, ProfileUpdateResponse{Message: "Profile updated successfully", User: u.Public()})
}

// ChangePassword godoc
// @ID          changePassword
// @Summary     Change password
// @Description Requires the current password. Previously issued tokens stay valid until they expire.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.ChangePasswordRequest  true  "Current and new password"
// @Success     200   {object}  handlers.MessageResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401   {object}  handlers.ErrorResponse  "Missing token or wrong current password"
// @Failure     403   {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/password [put]
func (h *Handlers) ChangePassword(c *gin.Context) {
	id, found := identity(c)
	if !found {
		return
	}
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if err := h.authSvc.ChangePassword(c.Request.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		authFailure(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Uint("user_id", id.UserID).Msg("password changed")
	ok(c, http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

// Logout godoc
// @ID          logout
// @Summary     Sign out
// @Description Acknowledges the logout. Tokens are not revoked server-side; clients discard them.
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MessageResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing token"
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Router      /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	id, found := identity(c)
	if !found {
		return
	}
	middleware.LoggerFrom(c).Info().
		Uint("user_id", id.UserID).
		Str("token_id", id.TokenID).
		Msg("logout")
	ok(c, http.StatusOK, MessageResponse{Message: "Logout successful"})
}

// authFailure maps AuthService errors onto the envelope.
func authFailure(c *gin.Context, err error) {
	var (
		ve *services.ValidationError
		ce *services.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		var details any
		if ve.Field != "" {
			details = gin.H{"field": ve.Field}
		}
		failWithDetails(c, http.StatusBadRequest, ErrCodeValidation, ve.Message, details)
	case errors.As(err, &ce):
		failWithDetails(c, http.StatusBadRequest, ErrCodeConflict, ce.Error(), gin.H{"field": ce.Field})
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, services.ErrWrongPassword):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "current password is incorrect")
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	default:
		failInternal(c, err)
	}
}
