package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/transport/http/middleware"
	"github.com/arklim/social-platform-accounts/internal/usecase"
)

const (
	authRateLimitProblemType  = "https://accounts.social-platform.example.com/errors/rate-limit-exceeded"
	authRateLimitProblemTitle = "Rate Limit Exceeded"
)

// AuthHandler exposes sign-in endpoints.
type AuthHandler struct {
	auth      *usecase.AuthService
	twoFactor *usecase.TwoFactorService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, twoFactor *usecase.TwoFactorService) *AuthHandler {
	return &AuthHandler{auth: auth, twoFactor: twoFactor}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the login handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.login)
		r.POST("/login", chain...)
	} else {
		r.POST("/login", h.login)
	}

	r.POST("/login/external", h.loginExternal)
	r.POST("/2fa/send", h.sendTwoFactorCode)
	r.POST("/2fa/verify", h.verifyTwoFactorCode)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	input := usecase.AuthInput{
		Identifier: strings.TrimSpace(req.Identifier),
		Password:   req.Password,
		RememberMe: req.RememberMe,
		ClientID:   strings.TrimSpace(req.ClientID),
	}

	result, err := h.auth.Authenticate(c.Request.Context(), input)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	respondAuthResult(c, result)
}

func (h *AuthHandler) loginExternal(c *gin.Context) {
	var req ExternalLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid external login payload"))
		return
	}

	result, err := h.auth.AuthenticateExternal(
		c.Request.Context(),
		strings.TrimSpace(req.Provider),
		strings.TrimSpace(req.ProviderKey),
		req.RememberMe,
		strings.TrimSpace(req.ClientID),
	)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	respondAuthResult(c, result)
}

// sendTwoFactorCode dispatches a verification code for a challenge opened
// during sign-in. The challenge ID is the sole handle; no account details
// are accepted or revealed here.
func (h *AuthHandler) sendTwoFactorCode(c *gin.Context) {
	var req TwoFactorSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid challenge payload"))
		return
	}

	provider := domain.TwoFactorProvider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if provider != domain.TwoFactorProviderEmail && provider != domain.TwoFactorProviderPhone {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown two-factor provider"))
		return
	}

	challenge, err := h.twoFactor.SendCode(c.Request.Context(), strings.TrimSpace(req.ChallengeID), provider)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrProviderUnavailable):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "two-factor provider unavailable"))
		case errors.Is(err, usecase.ErrChallengeInvalid), errors.Is(err, usecase.ErrChallengeExpired):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "challenge invalid or expired"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to send verification code"))
		}
		return
	}

	c.JSON(http.StatusOK, TwoFactorSendResponse{
		ChallengeID: challenge.ID,
		Provider:    string(challenge.Provider),
		ExpiresAt:   challenge.ExpiresAt,
	})
}

func (h *AuthHandler) verifyTwoFactorCode(c *gin.Context) {
	var req TwoFactorVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	result, err := h.twoFactor.Redeem(c.Request.Context(), usecase.RedeemInput{
		ChallengeID:    strings.TrimSpace(req.ChallengeID),
		Code:           strings.TrimSpace(req.Code),
		RememberClient: req.RememberClient,
		ClientID:       strings.TrimSpace(req.ClientID),
	})
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrChallengeInvalid):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "challenge invalid"))
		case errors.Is(err, usecase.ErrChallengeExpired):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "challenge expired"))
		case errors.Is(err, usecase.ErrTwoFactorCodeInvalid):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid verification code"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "verification failed"))
		}
		return
	}

	respondAuthResult(c, result)
}

func respondAuthResult(c *gin.Context, result *usecase.AuthResult) {
	switch result.Status {
	case usecase.AuthStatusSuccess:
		summary := newAccountSummary(*result.Account, result.Roles)
		c.JSON(http.StatusOK, AuthLoginResponse{
			AccessToken: result.Session.AccessToken,
			TokenType:   "Bearer",
			ExpiresAt:   result.Session.ExpiresAt,
			Account:     summary,
		})
	case usecase.AuthStatusRequiresTwoFactor:
		providers := make([]string, 0, len(result.Providers))
		for _, provider := range result.Providers {
			providers = append(providers, string(provider))
		}
		c.JSON(http.StatusAccepted, TwoFactorRequiredResponse{
			Message:     "two-factor verification required",
			ChallengeID: result.Challenge.ID,
			Providers:   providers,
			ExpiresAt:   result.Challenge.ExpiresAt,
		})
	case usecase.AuthStatusLockedOut:
		c.JSON(http.StatusLocked, NewErrorResponse(c, "account temporarily locked"))
	default:
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	}
}

func respondAuthError(c *gin.Context, err error) {
	var rateErr *usecase.RateLimitExceededError
	if errors.As(err, &rateErr) {
		respondRateLimitExceeded(c, rateErr)
		return
	}

	switch {
	case errors.Is(err, usecase.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	case errors.Is(err, usecase.ErrInactiveAccount):
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "account inactive"))
	case errors.Is(err, usecase.ErrAccountPending):
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "account pending confirmation"))
	case errors.Is(err, usecase.ErrProviderUnavailable):
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "two-factor provider unavailable"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
	}
}

func respondRateLimitExceeded(c *gin.Context, rateErr *usecase.RateLimitExceededError) {
	retryAfter := int(rateErr.RetryAfter / time.Second)
	if rateErr.RetryAfter%time.Second != 0 {
		retryAfter++
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	detail := "Too many attempts. Try again later."
	if rateErr.RetryAfter > 0 {
		detail = fmt.Sprintf("Too many attempts. Try again in %d seconds.", retryAfter)
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	problem := middleware.ProblemDetails{
		Type:       authRateLimitProblemType,
		Title:      authRateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     detail,
		Instance:   instance,
		RetryAfter: retryAfter,
		TraceID:    middleware.GetTraceID(c),
	}

	c.JSON(http.StatusTooManyRequests, problem)
}
