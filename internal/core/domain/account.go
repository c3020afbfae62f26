package domain

import "time"

// AccountStatus enumerates possible account states.
type AccountStatus string

const (
	AccountStatusPending  AccountStatus = "pending"
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                 string
	Username           string
	Email              string
	EmailConfirmed     bool
	Phone              *string
	PhoneConfirmed     bool
	PasswordHash       string
	PasswordAlgo       string
	TwoFactorEnabled   bool
	FailedAttempts     int
	LockoutEnd         *time.Time
	Status             AccountStatus
	IsActive           bool
	RegisteredAt       time.Time
	LastLogin          *time.Time
	LastPasswordChange time.Time
}

// IsLockedOut reports whether a lockout window is still in effect at the given
// instant. An elapsed window counts as unlocked even if the row has not been
// cleared yet.
func (a Account) IsLockedOut(at time.Time) bool {
	return a.LockoutEnd != nil && a.LockoutEnd.After(at)
}

// HasPassword reports whether the account carries a local credential.
// Accounts created through an external provider start without one.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// ExternalLogin links an account to a federated identity provider.
type ExternalLogin struct {
	Provider    string
	ProviderKey string
	AccountID   string
	DisplayName *string
	LinkedAt    time.Time
}

// Role is a named grant attached to accounts.
type Role struct {
	ID          string
	Name        string
	Description *string
}

// PasswordContext carries account attributes the password policy checks
// submitted passwords against.
type PasswordContext struct {
	Username string
	Email    string
	Phone    *string
}
