package port

import (
	"context"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

// FailureRecord is the outcome of registering one failed proof attempt.
type FailureRecord struct {
	FailedAttempts int
	LockoutEnd     *time.Time
	LockedOut      bool
}

// AccountRepository exposes persistence behavior for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	GetByExternalLogin(ctx context.Context, provider, providerKey string) (*domain.Account, error)
	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, passwordAlgo string, changedAt time.Time) error
	ConfirmEmail(ctx context.Context, id string) error
	SetPhone(ctx context.Context, id string, phone *string, confirmed bool) error
	SetTwoFactorEnabled(ctx context.Context, id string, enabled bool) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// RecordFailedAttempt atomically increments the failure counter. When the
	// increment reaches maxAttempts the counter resets to zero and the lockout
	// window is set to lockoutEnd, all in one statement.
	RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockoutEnd time.Time) (FailureRecord, error)
	// ClearLockout resets the failure counter and removes any lockout window.
	ClearLockout(ctx context.Context, id string) error

	LinkExternalLogin(ctx context.Context, login domain.ExternalLogin) error
	ListExternalLogins(ctx context.Context, accountID string) ([]domain.ExternalLogin, error)
	RemoveExternalLogin(ctx context.Context, accountID, provider, providerKey string) error
}

// RoleRepository resolves and assigns role grants for accounts.
type RoleRepository interface {
	RolesForAccount(ctx context.Context, accountID string) ([]string, error)
	AssignByName(ctx context.Context, accountID string, roleName string) error
}
