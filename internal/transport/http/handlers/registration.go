package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/usecase"
)

// RegistrationHandler exposes endpoints for account registration and email confirmation.
type RegistrationHandler struct {
	registration *usecase.RegistrationService
	isDev        bool // Development mode flag
}

func NewRegistrationHandler(registration *usecase.RegistrationService, isDev bool) *RegistrationHandler {
	return &RegistrationHandler{
		registration: registration,
		isDev:        isDev,
	}
}

// RegisterRoutes binds registration endpoints.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.Register)
	r.POST("/confirm-email", h.ConfirmEmail)
	r.POST("/resend-confirmation", h.ResendConfirmation)
}

// Register creates a pending account and dispatches a confirmation link.
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Username == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "username is required"))
		return
	}

	result, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrDuplicateLogin):
			c.JSON(http.StatusConflict, NewErrorResponse(c, "username or email already registered"))
		case errors.Is(err, usecase.ErrPasswordPolicyViolation):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "password does not meet requirements"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to register account"))
		}
		return
	}

	resp := RegistrationResponse{
		Account:              newAccountSummary(result.Account, nil),
		RequiresConfirmation: result.Account.Status == domain.AccountStatusPending,
	}

	if result.Account.Status == domain.AccountStatusPending {
		resp.Message = "email confirmation required"
		if !result.ExpiresAt.IsZero() {
			expires := result.ExpiresAt.UTC()
			resp.ExpiresAt = &expires
		}

		// Raw secrets leave the service only through the notification
		// pipeline in production.
		if h.isDev {
			if token := strings.TrimSpace(result.Token); token != "" {
				resp.DevToken = &token
			}
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// ConfirmEmail redeems a confirmation token and activates the account.
func (h *RegistrationHandler) ConfirmEmail(c *gin.Context) {
	var req ConfirmEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid confirmation payload"))
		return
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "confirmation token is required"))
		return
	}

	if err := h.registration.ConfirmEmail(c.Request.Context(), token); err != nil {
		switch {
		case errors.Is(err, usecase.ErrTokenInvalid), errors.Is(err, usecase.ErrTokenConsumed):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "confirmation token is invalid"))
		case errors.Is(err, usecase.ErrTokenExpired):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "confirmation token has expired"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to confirm email"))
		}
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "email confirmed"})
}

// ResendConfirmation issues a fresh confirmation link for an unconfirmed
// account. The response body does not reveal whether the identifier exists.
func (h *RegistrationHandler) ResendConfirmation(c *gin.Context) {
	var req ResendConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid payload"))
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "identifier is required"))
		return
	}

	_, err := h.registration.ResendConfirmation(c.Request.Context(), identifier)
	if err != nil && !errors.Is(err, usecase.ErrAccountNotFound) && !errors.Is(err, usecase.ErrAlreadyConfirmed) {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to resend confirmation"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "if the account exists, a confirmation link has been sent"})
}
