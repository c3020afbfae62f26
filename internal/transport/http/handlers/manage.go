package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-accounts/internal/transport/http/middleware"
	"github.com/arklim/social-platform-accounts/internal/usecase"
)

// ManageHandler exposes self-service account management endpoints. Every
// route requires an authenticated caller.
type ManageHandler struct {
	manage *usecase.ManageService
	isDev  bool
}

func NewManageHandler(manage *usecase.ManageService, isDev bool) *ManageHandler {
	return &ManageHandler{manage: manage, isDev: isDev}
}

// RegisterRoutes binds management endpoints onto an authenticated group.
func (h *ManageHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/phone", h.BeginPhoneChange)
	r.POST("/phone/verify", h.VerifyPhone)
	r.DELETE("/phone", h.RemovePhone)
	r.PUT("/two-factor", h.ToggleTwoFactor)
	r.GET("/external-logins", h.ListExternalLogins)
	r.POST("/external-logins", h.LinkExternalLogin)
	r.DELETE("/external-logins", h.RemoveExternalLogin)
}

// BeginPhoneChange sends a verification code to the new number.
func (h *ManageHandler) BeginPhoneChange(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PhoneChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid phone payload"))
		return
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "phone is required"))
		return
	}

	result, err := h.manage.BeginPhoneChange(c.Request.Context(), accountID, phone)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to start phone change")
		return
	}

	resp := PhoneChangeResponse{
		Message:   "verification code sent",
		ExpiresAt: result.ExpiresAt,
	}
	if h.isDev {
		code := result.Code
		resp.DevCode = &code
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyPhone completes a pending phone change.
func (h *ManageHandler) VerifyPhone(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PhoneVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	if err := h.manage.ConfirmPhoneChange(c.Request.Context(), accountID, strings.TrimSpace(req.Code)); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPhoneCodeInvalid, Status: http.StatusBadRequest, Message: "verification code is invalid"},
			{Err: usecase.ErrTokenExpired, Status: http.StatusBadRequest, Message: "verification code has expired"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to verify phone")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "phone number confirmed"})
}

// RemovePhone deletes the phone number from the account.
func (h *ManageHandler) RemovePhone(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	if err := h.manage.RemovePhone(c.Request.Context(), accountID); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPhoneMissing, Status: http.StatusConflict, Message: "no phone number on account"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to remove phone")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "phone number removed"})
}

// ToggleTwoFactor enables or disables two-factor sign-in.
func (h *ManageHandler) ToggleTwoFactor(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid two-factor payload"))
		return
	}

	if err := h.manage.SetTwoFactorEnabled(c.Request.Context(), accountID, req.Enabled); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorContactMissing, Status: http.StatusConflict, Message: "a confirmed email or phone is required for two-factor sign-in"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to update two-factor setting")
		return
	}

	message := "two-factor sign-in disabled"
	if req.Enabled {
		message = "two-factor sign-in enabled"
	}
	c.JSON(http.StatusOK, MessageResponse{Message: message})
}

// ListExternalLogins returns the external providers linked to the account.
func (h *ManageHandler) ListExternalLogins(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	logins, err := h.manage.ListExternalLogins(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list external logins"))
		return
	}

	payload := make([]ExternalLoginPayload, 0, len(logins))
	for _, login := range logins {
		payload = append(payload, newExternalLoginPayload(login))
	}

	c.JSON(http.StatusOK, ExternalLoginListResponse{
		Logins: payload,
		Total:  len(payload),
	})
}

// LinkExternalLogin attaches an external provider identity to the account.
func (h *ManageHandler) LinkExternalLogin(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ExternalLoginLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid external login payload"))
		return
	}

	displayName := ""
	if req.DisplayName != nil {
		displayName = strings.TrimSpace(*req.DisplayName)
	}

	err := h.manage.LinkExternalLogin(
		c.Request.Context(),
		accountID,
		strings.TrimSpace(req.Provider),
		strings.TrimSpace(req.ProviderKey),
		displayName,
	)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAlreadyLinked, Status: http.StatusConflict, Message: "external login already linked to an account"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to link external login")
		return
	}

	c.JSON(http.StatusCreated, MessageResponse{Message: "external login linked"})
}

// RemoveExternalLogin unlinks an external provider identity.
func (h *ManageHandler) RemoveExternalLogin(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ExternalLoginRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid external login payload"))
		return
	}

	err := h.manage.RemoveExternalLogin(
		c.Request.Context(),
		accountID,
		strings.TrimSpace(req.Provider),
		strings.TrimSpace(req.ProviderKey),
	)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrLastSignInMethod, Status: http.StatusConflict, Message: "cannot remove the only sign-in method"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "external login not found"},
		}, http.StatusInternalServerError, "failed to remove external login")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "external login removed"})
}
