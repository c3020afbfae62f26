package domain

import "time"

// TokenPurpose scopes a security token to the single operation it may redeem.
type TokenPurpose string

const (
	TokenPurposeEmailConfirmation TokenPurpose = "email_confirmation"
	TokenPurposePasswordReset     TokenPurpose = "password_reset"
	TokenPurposePhoneChange       TokenPurpose = "phone_change"
	TokenPurposeTwoFactor         TokenPurpose = "two_factor"
)

// IsCode reports whether the purpose is delivered as a short numeric code
// rather than a link-embedded secret.
func (p TokenPurpose) IsCode() bool {
	return p == TokenPurposePhoneChange || p == TokenPurposeTwoFactor
}

// SecurityToken is a single-use, purpose-bound secret stored as a hash.
type SecurityToken struct {
	ID        string
	AccountID string
	TokenHash string
	Purpose   TokenPurpose
	NewPhone  *string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	Metadata  map[string]any
}

// IsExpired reports whether the token has elapsed its validity window.
func (t SecurityToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsConsumed reports whether the token was already redeemed.
func (t SecurityToken) IsConsumed() bool {
	return t.UsedAt != nil
}

// Consume marks the token as used.
// Returns true when the token transitions from unused to used.
func (t *SecurityToken) Consume(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}

// TwoFactorProvider selects the delivery channel for a second-factor code.
type TwoFactorProvider string

const (
	TwoFactorProviderEmail TwoFactorProvider = "email"
	TwoFactorProviderPhone TwoFactorProvider = "phone"
)

// TwoFactorChallenge is the short-lived state between a password check that
// demanded a second factor and the code redemption that completes it.
type TwoFactorChallenge struct {
	ID         string
	AccountID  string
	Provider   TwoFactorProvider
	RememberMe bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsExpired reports whether the challenge can still be redeemed.
func (c TwoFactorChallenge) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}
