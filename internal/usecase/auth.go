package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/infra/config"
	"github.com/arklim/social-platform-accounts/internal/infra/logger"
	"github.com/arklim/social-platform-accounts/internal/infra/security"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided identifier or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount indicates the account is disabled or soft-deleted.
	ErrInactiveAccount = errors.New("account is not active")
	// ErrAccountPending indicates the account requires email confirmation before sign-in.
	ErrAccountPending = errors.New("account pending verification")
	// ErrAccountNotFound indicates no account matches the identifier.
	ErrAccountNotFound = errors.New("account not found")
)

// AuthStatus is the outcome of a credential check.
type AuthStatus string

const (
	AuthStatusSuccess           AuthStatus = "success"
	AuthStatusRequiresTwoFactor AuthStatus = "requires_two_factor"
	AuthStatusLockedOut         AuthStatus = "locked_out"
	AuthStatusRejected          AuthStatus = "rejected"
)

// AuthInput carries the proof presented at sign-in.
type AuthInput struct {
	Identifier string
	Password   string
	RememberMe bool
	ClientID   string
}

// AuthResult describes the outcome of an authentication attempt. Session is
// populated only on Success; Providers and Challenge only when a second
// factor is required; LockoutEnd only when the account is locked out.
type AuthResult struct {
	Status     AuthStatus
	Account    *domain.Account
	Roles      []string
	Session    *port.Session
	Providers  []domain.TwoFactorProvider
	Challenge  *domain.TwoFactorChallenge
	LockoutEnd *time.Time
}

// AuthService coordinates credential verification.
type AuthService struct {
	cfg        *config.AppConfig
	accounts   port.AccountRepository
	roles      port.RoleRepository
	lockout    *LockoutPolicy
	sessions   port.SessionIssuer
	remembered port.RememberedClientStore
	twoFactor  *TwoFactorService
	logger     *zap.Logger
	now        func() time.Time

	// decoyHash is verified against when the identifier resolves to nothing,
	// so unknown and known identifiers walk the same hashing path.
	decoyHash string
}

// NewAuthService constructs an AuthService.
func NewAuthService(
	cfg *config.AppConfig,
	accounts port.AccountRepository,
	roles port.RoleRepository,
	lockout *LockoutPolicy,
	sessions port.SessionIssuer,
	remembered port.RememberedClientStore,
	twoFactor *TwoFactorService,
	log *zap.Logger,
) (*AuthService, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	if lockout == nil {
		return nil, fmt.Errorf("lockout policy is required")
	}
	if twoFactor == nil {
		return nil, fmt.Errorf("two-factor service is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	decoy, err := security.HashPassword(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare decoy hash: %w", err)
	}

	return &AuthService{
		cfg:        cfg,
		accounts:   accounts,
		roles:      roles,
		lockout:    lockout,
		sessions:   sessions,
		remembered: remembered,
		twoFactor:  twoFactor,
		logger:     log,
		now:        time.Now,
		decoyHash:  decoy,
	}, nil
}

// WithClock allows tests to override the clock used by the service.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Authenticate validates the presented proof against the stored credential.
// The four outcomes are statuses, not errors; an error return means the check
// itself could not be performed.
func (s *AuthService) Authenticate(ctx context.Context, input AuthInput) (*AuthResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if input.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.rejectUnknown(input.Password)
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if !account.IsActive || account.Status == domain.AccountStatusDisabled {
		s.logger.Warn("sign-in attempt against inactive account",
			zap.String("account_id", account.ID))
		return &AuthResult{Status: AuthStatusRejected}, nil
	}

	// Lockout is checked before the proof so a locked account leaks nothing
	// about whether the password was right.
	if locked, end := s.lockout.IsLocked(*account); locked {
		s.logger.Warn("sign-in attempt against locked account",
			zap.String("account_id", account.ID),
			zap.Time("lockout_end", end))
		return &AuthResult{Status: AuthStatusLockedOut, LockoutEnd: &end}, nil
	}

	if !account.HasPassword() {
		// External-only account; burn the same hashing cost anyway.
		_, _ = security.VerifyPassword(input.Password, s.decoyHash)
		return &AuthResult{Status: AuthStatusRejected}, nil
	}

	ok, err := security.VerifyPassword(input.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		record, ferr := s.lockout.RecordFailure(ctx, *account)
		if ferr != nil && !errors.Is(ferr, repository.ErrNotFound) {
			return nil, ferr
		}
		if record.LockedOut {
			return &AuthResult{Status: AuthStatusLockedOut, LockoutEnd: record.LockoutEnd}, nil
		}
		return &AuthResult{Status: AuthStatusRejected}, nil
	}

	if account.Status == domain.AccountStatusPending {
		s.logger.Info("sign-in attempt before email confirmation",
			zap.String("account_id", account.ID),
			zap.String("email", logger.MaskEmail(account.Email)))
		return &AuthResult{Status: AuthStatusRejected}, nil
	}

	if err := s.lockout.RecordSuccess(ctx, *account); err != nil {
		return nil, err
	}

	if account.TwoFactorEnabled {
		rememberedClient, rerr := s.isClientRemembered(ctx, account.ID, input.ClientID)
		if rerr != nil {
			s.logger.Warn("remembered client lookup failed",
				zap.String("account_id", account.ID), zap.Error(rerr))
		}
		if !rememberedClient {
			return s.requireSecondFactor(ctx, *account, input.RememberMe)
		}
	}

	return s.finalize(ctx, *account, input.RememberMe)
}

// AuthenticateExternal resolves an account through a linked federated
// identity. No local proof is checked, but lockout and the two-factor gate
// still apply.
func (s *AuthService) AuthenticateExternal(ctx context.Context, provider, providerKey string, rememberMe bool, clientID string) (*AuthResult, error) {
	provider = strings.TrimSpace(provider)
	providerKey = strings.TrimSpace(providerKey)
	if provider == "" || providerKey == "" {
		return nil, fmt.Errorf("provider and provider key are required")
	}

	account, err := s.accounts.GetByExternalLogin(ctx, provider, providerKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &AuthResult{Status: AuthStatusRejected}, nil
		}
		return nil, fmt.Errorf("lookup external login: %w", err)
	}

	if !account.IsActive || account.Status == domain.AccountStatusDisabled {
		return &AuthResult{Status: AuthStatusRejected}, nil
	}
	if locked, end := s.lockout.IsLocked(*account); locked {
		return &AuthResult{Status: AuthStatusLockedOut, LockoutEnd: &end}, nil
	}

	if err := s.lockout.RecordSuccess(ctx, *account); err != nil {
		return nil, err
	}

	if account.TwoFactorEnabled {
		rememberedClient, rerr := s.isClientRemembered(ctx, account.ID, clientID)
		if rerr != nil {
			s.logger.Warn("remembered client lookup failed",
				zap.String("account_id", account.ID), zap.Error(rerr))
		}
		if !rememberedClient {
			return s.requireSecondFactor(ctx, *account, rememberMe)
		}
	}

	return s.finalize(ctx, *account, rememberMe)
}

// requireSecondFactor opens a fresh challenge for an account that passed
// its primary credential check. The challenge ID is the only handle the
// client gets for the rest of the two-factor flow.
func (s *AuthService) requireSecondFactor(ctx context.Context, account domain.Account, rememberMe bool) (*AuthResult, error) {
	challenge, err := s.twoFactor.Begin(ctx, account, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("begin two-factor challenge: %w", err)
	}

	sanitized := sanitizeAccount(account)
	return &AuthResult{
		Status:    AuthStatusRequiresTwoFactor,
		Account:   &sanitized,
		Providers: AvailableProviders(account),
		Challenge: challenge,
	}, nil
}

func (s *AuthService) finalize(ctx context.Context, account domain.Account, rememberMe bool) (*AuthResult, error) {
	roles, err := s.collectRoles(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("update last login failed", zap.String("account_id", account.ID), zap.Error(err))
	}

	var session *port.Session
	if s.sessions != nil {
		issued, err := s.sessions.Issue(ctx, account, roles, rememberMe)
		if err != nil {
			return nil, fmt.Errorf("issue session: %w", err)
		}
		session = &issued
	}

	sanitized := sanitizeAccount(account)
	sanitized.LastLogin = &now

	return &AuthResult{
		Status:  AuthStatusSuccess,
		Account: &sanitized,
		Roles:   roles,
		Session: session,
	}, nil
}

func (s *AuthService) rejectUnknown(password string) (*AuthResult, error) {
	if _, err := security.VerifyPassword(password, s.decoyHash); err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	return &AuthResult{Status: AuthStatusRejected}, nil
}

func (s *AuthService) isClientRemembered(ctx context.Context, accountID, clientID string) (bool, error) {
	clientID = strings.TrimSpace(clientID)
	if s.remembered == nil || clientID == "" {
		return false, nil
	}
	return s.remembered.IsClientRemembered(ctx, accountID, clientID)
}

func (s *AuthService) collectRoles(ctx context.Context, accountID string) ([]string, error) {
	if s.roles == nil {
		return nil, nil
	}
	roles, err := s.roles.RolesForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list account roles: %w", err)
	}
	return roles, nil
}

// AvailableProviders lists the second-factor channels the account can use.
func AvailableProviders(account domain.Account) []domain.TwoFactorProvider {
	providers := make([]domain.TwoFactorProvider, 0, 2)
	if account.EmailConfirmed {
		providers = append(providers, domain.TwoFactorProviderEmail)
	}
	if account.Phone != nil && account.PhoneConfirmed {
		providers = append(providers, domain.TwoFactorProviderPhone)
	}
	return providers
}

func sanitizeAccount(account domain.Account) domain.Account {
	account.PasswordHash = ""
	return account
}
