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
	"github.com/arklim/social-platform-accounts/internal/infra/security"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

const (
	passwordResetRateLimitScope = "password_reset"
	passwordResetReason         = "password_reset"
	passwordChangeReason        = "password_change"
)

var (
	// ErrCurrentPasswordInvalid indicates the supplied current password does not match.
	ErrCurrentPasswordInvalid = errors.New("current password invalid")
	// ErrPasswordAlreadySet indicates SetPassword was called on an account that has a credential.
	ErrPasswordAlreadySet = errors.New("password already set")
	// ErrNoPasswordSet indicates ChangePassword was called on an external-only account.
	ErrNoPasswordSet = errors.New("no password set")
)

// ResetRequestResult describes the generated reset artifact returned to the caller.
type ResetRequestResult struct {
	AccountID string
	Token     string
	ExpiresAt time.Time
}

// PasswordResetService coordinates password reset, change, and initial set.
type PasswordResetService struct {
	cfg        *config.AppConfig
	accounts   port.AccountRepository
	codec      *TokenCodec
	transport  port.TokenTransport
	rateLimits port.RateLimitStore
	events     port.EventPublisher
	policy     port.PasswordPolicyValidator
	logger     *zap.Logger
	now        func() time.Time
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(
	cfg *config.AppConfig,
	accounts port.AccountRepository,
	codec *TokenCodec,
	transport port.TokenTransport,
	rateLimits port.RateLimitStore,
	events port.EventPublisher,
	policy port.PasswordPolicyValidator,
	log *zap.Logger,
) *PasswordResetService {
	if policy == nil {
		policy = security.NewPasswordPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordResetService{
		cfg:        cfg,
		accounts:   accounts,
		codec:      codec,
		transport:  transport,
		rateLimits: rateLimits,
		events:     events,
		policy:     policy,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *PasswordResetService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// RequestPasswordReset issues a reset token when the identifier resolves to a
// confirmed account. Callers must collapse ErrAccountNotFound into the same
// response shape as success so the endpoint does not reveal which identifiers
// exist.
func (s *PasswordResetService) RequestPasswordReset(ctx context.Context, identifier string) (*ResetRequestResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if s.accounts == nil || s.codec == nil {
		return nil, fmt.Errorf("password reset service not configured")
	}

	now := s.now().UTC()
	if err := s.enforceRateLimit(ctx, identifier, now); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if !account.EmailConfirmed {
		// Same silent outcome as an unknown identifier.
		return nil, ErrAccountNotFound
	}

	issued, err := s.codec.Issue(ctx, account.ID, domain.TokenPurposePasswordReset)
	if err != nil {
		return nil, err
	}

	s.dispatchReset(ctx, account.Email, issued)
	s.publishResetRequested(ctx, account, issued)

	return &ResetRequestResult{
		AccountID: account.ID,
		Token:     issued.Secret,
		ExpiresAt: issued.Record.ExpiresAt,
	}, nil
}

// ResetPassword redeems a reset token and installs the new password. The
// token is consumed before the credential is replaced, so concurrent resets
// with the same token settle to exactly one winner.
func (s *PasswordResetService) ResetPassword(ctx context.Context, secret, newPassword string) error {
	if s.accounts == nil || s.codec == nil {
		return fmt.Errorf("password reset service not configured")
	}

	token, err := s.codec.Validate(ctx, secret, domain.TokenPurposePasswordReset)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	if err := s.validateNewPassword(newPassword, *account); err != nil {
		return err
	}

	if _, err := s.codec.Consume(ctx, secret, domain.TokenPurposePasswordReset); err != nil {
		return err
	}

	if err := s.applyNewPassword(ctx, *account, newPassword, passwordResetReason); err != nil {
		return err
	}

	return nil
}

// ChangePassword replaces the credential after verifying the current one.
func (s *PasswordResetService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if currentPassword == "" {
		return ErrCurrentPasswordInvalid
	}
	if s.accounts == nil {
		return fmt.Errorf("password reset service not configured")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if !account.HasPassword() {
		return ErrNoPasswordSet
	}

	matches, err := security.VerifyPassword(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify current password: %w", err)
	}
	if !matches {
		return ErrCurrentPasswordInvalid
	}

	if err := s.validateNewPassword(newPassword, *account); err != nil {
		return err
	}

	return s.applyNewPassword(ctx, *account, newPassword, passwordChangeReason)
}

// SetPassword installs an initial credential on an account that signed up
// through an external provider. Fails once a password exists.
func (s *PasswordResetService) SetPassword(ctx context.Context, accountID, newPassword string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if s.accounts == nil {
		return fmt.Errorf("password reset service not configured")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if account.HasPassword() {
		return ErrPasswordAlreadySet
	}

	if err := s.validateNewPassword(newPassword, *account); err != nil {
		return err
	}

	return s.applyNewPassword(ctx, *account, newPassword, "password_set")
}

func (s *PasswordResetService) validateNewPassword(password string, account domain.Account) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("new password is required")
	}
	pctx := domain.PasswordContext{
		Username: strings.TrimSpace(account.Username),
		Email:    strings.TrimSpace(account.Email),
	}
	if err := s.policy.Validate(password, pctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}
	return nil
}

func (s *PasswordResetService) applyNewPassword(ctx context.Context, account domain.Account, newPassword, reason string) error {
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	changedAt := s.now().UTC()
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, "argon2id", changedAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}

	s.publishPasswordChanged(ctx, account.ID, reason, changedAt)
	return nil
}

func (s *PasswordResetService) enforceRateLimit(ctx context.Context, identifier string, now time.Time) error {
	if s.rateLimits == nil || s.cfg == nil {
		return nil
	}

	limit := s.cfg.RateLimit.PasswordResetMaxAttempts
	if limit <= 0 {
		return nil
	}
	window := s.cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Hour
	}

	identifierKey := normalizeIdentifierKey(identifier)
	if identifierKey == "" {
		return nil
	}
	storageKey := fmt.Sprintf("%s:%s", passwordResetRateLimitScope, identifierKey)

	if err := s.rateLimits.TrimWindow(ctx, storageKey, window, now); err != nil {
		s.logger.Warn("password reset rate limit trim failed", zap.Error(err))
		return nil
	}
	count, err := s.rateLimits.CountAttempts(ctx, storageKey, window, now)
	if err != nil {
		s.logger.Warn("password reset rate limit count failed", zap.Error(err))
		return nil
	}
	if count >= limit {
		retryAfter := time.Duration(0)
		if oldest, ok, oerr := s.rateLimits.OldestAttempt(ctx, storageKey, window, now); oerr == nil && ok {
			if reset := oldest.Add(window); reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if oerr != nil {
			s.logger.Warn("password reset rate limit oldest lookup failed", zap.Error(oerr))
		}
		return &RateLimitExceededError{Scope: passwordResetRateLimitScope, RetryAfter: retryAfter}
	}
	if err := s.rateLimits.RecordAttempt(ctx, storageKey, now); err != nil {
		s.logger.Warn("password reset rate limit record failed", zap.Error(err))
	}
	return nil
}

func (s *PasswordResetService) dispatchReset(ctx context.Context, email string, issued *IssuedToken) {
	if s.transport == nil {
		return
	}
	delivery := port.TokenDelivery{
		Channel:     port.DeliveryChannelEmail,
		Destination: email,
		Purpose:     domain.TokenPurposePasswordReset,
		Token:       issued.Secret,
		ExpiresAt:   issued.Record.ExpiresAt,
	}
	if err := s.transport.Send(ctx, delivery); err != nil {
		s.logger.Warn("password reset delivery failed",
			zap.String("email", maskDestination(deliveryEmail, email)), zap.Error(err))
	}
}

func (s *PasswordResetService) publishResetRequested(ctx context.Context, account *domain.Account, issued *IssuedToken) {
	if s.events == nil {
		return
	}
	event := domain.PasswordResetRequestedEvent{
		EventID:           uuid.NewString(),
		AccountID:         account.ID,
		RequestedAt:       s.now().UTC(),
		DeliveryMethod:    deliveryEmail,
		MaskedDestination: maskDestination(deliveryEmail, account.Email),
		ExpiresAt:         issued.Record.ExpiresAt,
	}
	if err := s.events.PublishPasswordResetRequested(ctx, event); err != nil {
		s.logger.Warn("publish password reset requested failed",
			zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (s *PasswordResetService) publishPasswordChanged(ctx context.Context, accountID, reason string, changedAt time.Time) {
	if s.events == nil {
		return
	}
	event := domain.PasswordChangedEvent{
		EventID:   uuid.NewString(),
		AccountID: accountID,
		ChangedAt: changedAt,
		ChangedBy: accountID,
		Metadata:  map[string]any{"source": reason},
	}
	if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
		s.logger.Warn("publish password changed event failed",
			zap.String("account_id", accountID), zap.Error(err))
	}
}
