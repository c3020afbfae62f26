package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary describes a minimal view of an account returned by the API.
type AccountSummary struct {
	ID               string               `json:"id"`
	Username         string               `json:"username"`
	Status           domain.AccountStatus `json:"status"`
	Email            string               `json:"email,omitempty"`
	EmailConfirmed   bool                 `json:"email_confirmed"`
	Phone            *string              `json:"phone,omitempty"`
	PhoneConfirmed   bool                 `json:"phone_confirmed"`
	TwoFactorEnabled bool                 `json:"two_factor_enabled"`
	Roles            []string             `json:"roles,omitempty"`
	LastLogin        *time.Time           `json:"last_login,omitempty"`
}

// AuthLoginRequest defines the payload for the login endpoint.
type AuthLoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"remember_me"`
	ClientID   string `json:"client_id"`
}

// AuthLoginResponse describes the response returned for a successful login.
type AuthLoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Account     AccountSummary `json:"account"`
}

// TwoFactorRequiredResponse is returned when a login needs a second factor.
// The challenge ID references the pending sign-in for the send and verify
// endpoints.
type TwoFactorRequiredResponse struct {
	Message     string    `json:"message"`
	ChallengeID string    `json:"challenge_id"`
	Providers   []string  `json:"providers"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TwoFactorSendRequest asks for a challenge code on the given provider.
type TwoFactorSendRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	Provider    string `json:"provider" binding:"required"`
}

// TwoFactorSendResponse acknowledges a dispatched challenge.
type TwoFactorSendResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Provider    string    `json:"provider"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TwoFactorVerifyRequest completes a pending challenge.
type TwoFactorVerifyRequest struct {
	ChallengeID    string `json:"challenge_id" binding:"required"`
	Code           string `json:"code" binding:"required"`
	RememberClient bool   `json:"remember_client"`
	ClientID       string `json:"client_id"`
}

// ExternalLoginRequest authenticates via a linked external provider.
type ExternalLoginRequest struct {
	Provider    string `json:"provider" binding:"required"`
	ProviderKey string `json:"provider_key" binding:"required"`
	RememberMe  bool   `json:"remember_me"`
	ClientID    string `json:"client_id"`
}

// RegistrationRequest defines the account registration payload.
type RegistrationRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// RegistrationResponse contains registration results and next steps.
type RegistrationResponse struct {
	Account              AccountSummary `json:"account"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Message              string         `json:"message,omitempty"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty"`
	// DevToken is ONLY exposed in development mode. In production the
	// confirmation link travels through the notification pipeline.
	DevToken *string `json:"dev_token,omitempty"`
}

// ConfirmEmailRequest carries the confirmation token.
type ConfirmEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

// ResendConfirmationRequest asks for a fresh confirmation link.
type ResendConfirmationRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// PasswordForgotRequest represents a password reset initiation payload.
type PasswordForgotRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// PasswordResetRequest captures a password reset confirmation payload.
type PasswordResetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// PasswordChangeRequest captures a password change request body.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// PasswordSetRequest sets an initial password on an external-only account.
type PasswordSetRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

// PhoneChangeRequest starts a phone number change.
type PhoneChangeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// PhoneChangeResponse acknowledges a dispatched verification code.
type PhoneChangeResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	// DevCode is ONLY exposed in development mode.
	DevCode *string `json:"dev_code,omitempty"`
}

// PhoneVerifyRequest completes a phone number change.
type PhoneVerifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// TwoFactorToggleRequest enables or disables two-factor sign-in.
type TwoFactorToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// ExternalLoginLinkRequest links an external provider to the account.
type ExternalLoginLinkRequest struct {
	Provider    string  `json:"provider" binding:"required"`
	ProviderKey string  `json:"provider_key" binding:"required"`
	DisplayName *string `json:"display_name,omitempty"`
}

// ExternalLoginPayload describes a linked external provider.
type ExternalLoginPayload struct {
	Provider    string    `json:"provider"`
	ProviderKey string    `json:"provider_key"`
	DisplayName *string   `json:"display_name,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
}

// ExternalLoginListResponse wraps the linked providers of an account.
type ExternalLoginListResponse struct {
	Logins []ExternalLoginPayload `json:"logins"`
	Total  int                    `json:"total"`
}

// ExternalLoginRemoveRequest unlinks an external provider.
type ExternalLoginRemoveRequest struct {
	Provider    string `json:"provider" binding:"required"`
	ProviderKey string `json:"provider_key" binding:"required"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JWKSKey describes an individual JSON Web Key in the JWKS response.
type JWKSKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the JSON Web Key Set payload.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// newAccountSummary converts a domain account to a summary suitable for API responses.
func newAccountSummary(account domain.Account, roles []string) AccountSummary {
	summary := AccountSummary{
		ID:               account.ID,
		Username:         account.Username,
		Status:           account.Status,
		Email:            account.Email,
		EmailConfirmed:   account.EmailConfirmed,
		PhoneConfirmed:   account.PhoneConfirmed,
		TwoFactorEnabled: account.TwoFactorEnabled,
		LastLogin:        account.LastLogin,
	}

	if account.Phone != nil {
		phone := strings.TrimSpace(*account.Phone)
		if phone != "" {
			summary.Phone = &phone
		}
	}

	if len(roles) > 0 {
		rolesCopy := make([]string, len(roles))
		copy(rolesCopy, roles)
		summary.Roles = rolesCopy
	}

	return summary
}

func newExternalLoginPayload(login domain.ExternalLogin) ExternalLoginPayload {
	return ExternalLoginPayload{
		Provider:    login.Provider,
		ProviderKey: login.ProviderKey,
		DisplayName: login.DisplayName,
		LinkedAt:    login.LinkedAt,
	}
}
