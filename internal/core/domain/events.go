package domain

import "time"

// AccountRegisteredEvent represents the payload for accounts.account.registered messages.
type AccountRegisteredEvent struct {
	EventID            string
	AccountID          string
	Username           string
	Email              *string
	Status             string
	RegisteredAt       time.Time
	RegistrationMethod string
	Metadata           map[string]any
}

// EmailConfirmedEvent represents the payload for accounts.account.email_confirmed messages.
type EmailConfirmedEvent struct {
	EventID     string
	AccountID   string
	ConfirmedAt time.Time
	Metadata    map[string]any
}

// PasswordChangedEvent represents the payload for accounts.account.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	AccountID string
	ChangedAt time.Time
	ChangedBy string
	Metadata  map[string]any
}

// PasswordResetRequestedEvent represents the payload for accounts.account.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID           string
	AccountID         string
	RequestedAt       time.Time
	DeliveryMethod    string
	MaskedDestination string
	ExpiresAt         time.Time
	Metadata          map[string]any
}

// AccountLockedEvent represents the payload for accounts.account.locked messages.
type AccountLockedEvent struct {
	EventID    string
	AccountID  string
	LockedAt   time.Time
	LockoutEnd time.Time
	Metadata   map[string]any
}

// ExternalLoginLinkedEvent represents the payload for accounts.account.external_login.linked messages.
type ExternalLoginLinkedEvent struct {
	EventID   string
	AccountID string
	Provider  string
	LinkedAt  time.Time
	Metadata  map[string]any
}

// TwoFactorToggledEvent represents the payload for accounts.account.two_factor messages.
type TwoFactorToggledEvent struct {
	EventID   string
	AccountID string
	Enabled   bool
	ChangedAt time.Time
	Metadata  map[string]any
}
