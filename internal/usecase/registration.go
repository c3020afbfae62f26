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

const defaultRoleName = "user"

var (
	// ErrDuplicateLogin indicates the username or email is already taken.
	ErrDuplicateLogin = errors.New("login already registered")
	// ErrPasswordPolicyViolation indicates the submitted password fails the policy.
	ErrPasswordPolicyViolation = errors.New("password does not meet policy")
	// ErrAlreadyConfirmed indicates the email address was confirmed earlier.
	ErrAlreadyConfirmed = errors.New("email already confirmed")
)

// RegisterInput captures the payload for a new account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RegistrationResult pairs the created account with the confirmation artifact.
type RegistrationResult struct {
	Account   domain.Account
	Token     string
	ExpiresAt time.Time
}

// RegistrationService provisions accounts and drives email confirmation.
type RegistrationService struct {
	cfg       *config.AppConfig
	accounts  port.AccountRepository
	roles     port.RoleRepository
	codec     *TokenCodec
	transport port.TokenTransport
	events    port.EventPublisher
	policy    port.PasswordPolicyValidator
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(
	cfg *config.AppConfig,
	accounts port.AccountRepository,
	roles port.RoleRepository,
	codec *TokenCodec,
	transport port.TokenTransport,
	events port.EventPublisher,
	policy port.PasswordPolicyValidator,
	log *zap.Logger,
) *RegistrationService {
	if policy == nil {
		policy = security.NewPasswordPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationService{
		cfg:       cfg,
		accounts:  accounts,
		roles:     roles,
		codec:     codec,
		transport: transport,
		events:    events,
		policy:    policy,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register creates a pending account and issues its confirmation token.
// The token is dispatched over email; a delivery failure is logged and the
// registration still succeeds.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*RegistrationResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if s.accounts == nil || s.codec == nil {
		return nil, fmt.Errorf("registration service not configured")
	}

	if err := s.policy.Validate(input.Password, domain.PasswordContext{Username: username, Email: email}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	account := domain.Account{
		ID:                 uuid.NewString(),
		Username:           username,
		Email:              email,
		PasswordHash:       hash,
		PasswordAlgo:       "argon2id",
		Status:             domain.AccountStatusPending,
		IsActive:           true,
		RegisteredAt:       now,
		LastPasswordChange: now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateLogin
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	if s.roles != nil {
		if err := s.roles.AssignByName(ctx, account.ID, defaultRoleName); err != nil {
			s.logger.Warn("assign default role failed",
				zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	issued, err := s.codec.Issue(ctx, account.ID, domain.TokenPurposeEmailConfirmation)
	if err != nil {
		return nil, err
	}

	s.dispatchConfirmation(ctx, account.Email, issued)
	s.publishRegistered(ctx, account)

	account.PasswordHash = ""
	return &RegistrationResult{
		Account:   account,
		Token:     issued.Secret,
		ExpiresAt: issued.Record.ExpiresAt,
	}, nil
}

// ConfirmEmail redeems a confirmation token and activates the account.
// A token can be redeemed once; presenting it again fails even though the
// account stays confirmed.
func (s *RegistrationService) ConfirmEmail(ctx context.Context, secret string) error {
	if s.accounts == nil || s.codec == nil {
		return fmt.Errorf("registration service not configured")
	}

	token, err := s.codec.Consume(ctx, secret, domain.TokenPurposeEmailConfirmation)
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

	if !account.EmailConfirmed {
		if err := s.accounts.ConfirmEmail(ctx, account.ID); err != nil {
			return fmt.Errorf("confirm email: %w", err)
		}
	}
	if account.Status == domain.AccountStatusPending {
		if err := s.accounts.UpdateStatus(ctx, account.ID, domain.AccountStatusActive); err != nil {
			return fmt.Errorf("activate account: %w", err)
		}
	}

	s.publishEmailConfirmed(ctx, account.ID)
	return nil
}

// ResendConfirmation issues a fresh confirmation token without touching any
// outstanding ones. Returns ErrAlreadyConfirmed when there is nothing to
// confirm; the transport layer collapses that to the same success shape.
func (s *RegistrationService) ResendConfirmation(ctx context.Context, identifier string) (*RegistrationResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if s.accounts == nil || s.codec == nil {
		return nil, fmt.Errorf("registration service not configured")
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if account.EmailConfirmed {
		return nil, ErrAlreadyConfirmed
	}

	issued, err := s.codec.Issue(ctx, account.ID, domain.TokenPurposeEmailConfirmation)
	if err != nil {
		return nil, err
	}

	s.dispatchConfirmation(ctx, account.Email, issued)

	sanitized := sanitizeAccount(*account)
	return &RegistrationResult{
		Account:   sanitized,
		Token:     issued.Secret,
		ExpiresAt: issued.Record.ExpiresAt,
	}, nil
}

func (s *RegistrationService) dispatchConfirmation(ctx context.Context, email string, issued *IssuedToken) {
	if s.transport == nil {
		return
	}
	delivery := port.TokenDelivery{
		Channel:     port.DeliveryChannelEmail,
		Destination: email,
		Purpose:     domain.TokenPurposeEmailConfirmation,
		Token:       issued.Secret,
		ExpiresAt:   issued.Record.ExpiresAt,
	}
	if err := s.transport.Send(ctx, delivery); err != nil {
		s.logger.Warn("confirmation email delivery failed",
			zap.String("email", logger.MaskEmail(email)), zap.Error(err))
	}
}

func (s *RegistrationService) publishRegistered(ctx context.Context, account domain.Account) {
	if s.events == nil {
		return
	}
	event := domain.AccountRegisteredEvent{
		EventID:            uuid.NewString(),
		AccountID:          account.ID,
		Username:           account.Username,
		Email:              stringPtrOrNil(account.Email),
		Status:             string(account.Status),
		RegisteredAt:       account.RegisteredAt,
		RegistrationMethod: "password",
	}
	if err := s.events.PublishAccountRegistered(ctx, event); err != nil {
		s.logger.Warn("publish account registered event failed",
			zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (s *RegistrationService) publishEmailConfirmed(ctx context.Context, accountID string) {
	if s.events == nil {
		return
	}
	event := domain.EmailConfirmedEvent{
		EventID:     uuid.NewString(),
		AccountID:   accountID,
		ConfirmedAt: s.now().UTC(),
	}
	if err := s.events.PublishEmailConfirmed(ctx, event); err != nil {
		s.logger.Warn("publish email confirmed event failed",
			zap.String("account_id", accountID), zap.Error(err))
	}
}
