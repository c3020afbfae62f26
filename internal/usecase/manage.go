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
	"github.com/arklim/social-platform-accounts/internal/repository"
)

var (
	// ErrAlreadyLinked indicates the external identity is linked to some account.
	ErrAlreadyLinked = errors.New("external login already linked")
	// ErrLastSignInMethod indicates removing the login would leave the account unreachable.
	ErrLastSignInMethod = errors.New("cannot remove last sign-in method")
	// ErrPhoneCodeInvalid indicates the submitted phone confirmation code does not match.
	ErrPhoneCodeInvalid = errors.New("phone confirmation code invalid")
	// ErrPhoneMissing indicates the account has no phone number on file.
	ErrPhoneMissing = errors.New("no phone number on account")
	// ErrTwoFactorContactMissing indicates no confirmed destination can deliver second factors.
	ErrTwoFactorContactMissing = errors.New("no confirmed contact for two-factor codes")
)

// ManageService covers the self-service surface of an authenticated account:
// phone numbers, external logins, and the two-factor toggle.
type ManageService struct {
	cfg       *config.AppConfig
	accounts  port.AccountRepository
	codec     *TokenCodec
	transport port.TokenTransport
	twoFactor *TwoFactorService
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewManageService constructs a ManageService.
func NewManageService(
	cfg *config.AppConfig,
	accounts port.AccountRepository,
	codec *TokenCodec,
	transport port.TokenTransport,
	twoFactor *TwoFactorService,
	events port.EventPublisher,
	log *zap.Logger,
) *ManageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ManageService{
		cfg:       cfg,
		accounts:  accounts,
		codec:     codec,
		transport: transport,
		twoFactor: twoFactor,
		events:    events,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *ManageService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// PhoneChangeResult carries the artifact of a started phone change.
type PhoneChangeResult struct {
	Code      string
	ExpiresAt time.Time
}

// BeginPhoneChange issues a confirmation code for the new number and sends it
// there. The number is not stored on the account until the code comes back.
func (s *ManageService) BeginPhoneChange(ctx context.Context, accountID, newPhone string) (*PhoneChangeResult, error) {
	accountID = strings.TrimSpace(accountID)
	newPhone = strings.TrimSpace(newPhone)
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if newPhone == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	if s.accounts == nil || s.codec == nil {
		return nil, fmt.Errorf("manage service not configured")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	issued, err := s.codec.Issue(ctx, account.ID, domain.TokenPurposePhoneChange, WithNewPhone(newPhone))
	if err != nil {
		return nil, err
	}

	if s.transport != nil {
		delivery := port.TokenDelivery{
			Channel:     port.DeliveryChannelSMS,
			Destination: newPhone,
			Purpose:     domain.TokenPurposePhoneChange,
			Code:        issued.Secret,
			ExpiresAt:   issued.Record.ExpiresAt,
		}
		if err := s.transport.Send(ctx, delivery); err != nil {
			s.logger.Warn("phone change code delivery failed",
				zap.String("phone", logger.MaskPhone(newPhone)), zap.Error(err))
		}
	}

	return &PhoneChangeResult{Code: issued.Secret, ExpiresAt: issued.Record.ExpiresAt}, nil
}

// ConfirmPhoneChange redeems the code and installs the number it was issued for.
func (s *ManageService) ConfirmPhoneChange(ctx context.Context, accountID, code string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if s.accounts == nil || s.codec == nil {
		return fmt.Errorf("manage service not configured")
	}

	token, err := s.codec.ConsumeCode(ctx, accountID, code, domain.TokenPurposePhoneChange)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return ErrPhoneCodeInvalid
		}
		return err
	}
	if token.NewPhone == nil {
		return ErrPhoneCodeInvalid
	}

	if err := s.accounts.SetPhone(ctx, accountID, token.NewPhone, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("set phone: %w", err)
	}
	return nil
}

// RemovePhone clears the phone number. Two-factor falls back to email; when
// even that is unavailable the toggle is switched off.
func (s *ManageService) RemovePhone(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if s.accounts == nil {
		return fmt.Errorf("manage service not configured")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if account.Phone == nil {
		return ErrPhoneMissing
	}

	if err := s.accounts.SetPhone(ctx, accountID, nil, false); err != nil {
		return fmt.Errorf("clear phone: %w", err)
	}

	if account.TwoFactorEnabled && !account.EmailConfirmed {
		if err := s.SetTwoFactorEnabled(ctx, accountID, false); err != nil {
			s.logger.Warn("disable two-factor after phone removal failed",
				zap.String("account_id", accountID), zap.Error(err))
		}
	}
	return nil
}

// SetTwoFactorEnabled flips the two-factor toggle. Enabling requires at least
// one confirmed destination; disabling also drops remembered clients.
func (s *ManageService) SetTwoFactorEnabled(ctx context.Context, accountID string, enabled bool) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if s.accounts == nil {
		return fmt.Errorf("manage service not configured")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	if enabled && len(AvailableProviders(*account)) == 0 {
		return ErrTwoFactorContactMissing
	}
	if account.TwoFactorEnabled == enabled {
		return nil
	}

	if err := s.accounts.SetTwoFactorEnabled(ctx, accountID, enabled); err != nil {
		return fmt.Errorf("set two-factor: %w", err)
	}

	if !enabled && s.twoFactor != nil {
		if err := s.twoFactor.ForgetRememberedClients(ctx, accountID); err != nil {
			s.logger.Warn("forget remembered clients failed",
				zap.String("account_id", accountID), zap.Error(err))
		}
	}

	s.publishTwoFactorToggled(ctx, accountID, enabled)
	return nil
}

// LinkExternalLogin attaches a federated identity to the account. A key
// already linked anywhere fails with ErrAlreadyLinked, including re-links to
// the same account.
func (s *ManageService) LinkExternalLogin(ctx context.Context, accountID, provider, providerKey string, displayName string) error {
	accountID = strings.TrimSpace(accountID)
	provider = strings.TrimSpace(provider)
	providerKey = strings.TrimSpace(providerKey)
	if accountID == "" || provider == "" || providerKey == "" {
		return fmt.Errorf("account id, provider, and provider key are required")
	}
	if s.accounts == nil {
		return fmt.Errorf("manage service not configured")
	}

	login := domain.ExternalLogin{
		Provider:    provider,
		ProviderKey: providerKey,
		AccountID:   accountID,
		DisplayName: stringPtrOrNil(displayName),
		LinkedAt:    s.now().UTC(),
	}
	if err := s.accounts.LinkExternalLogin(ctx, login); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrAlreadyLinked
		}
		return fmt.Errorf("link external login: %w", err)
	}

	s.publishExternalLoginLinked(ctx, accountID, provider)
	return nil
}

// ListExternalLogins returns the federated identities linked to the account.
func (s *ManageService) ListExternalLogins(ctx context.Context, accountID string) ([]domain.ExternalLogin, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	logins, err := s.accounts.ListExternalLogins(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list external logins: %w", err)
	}
	return logins, nil
}

// RemoveExternalLogin detaches a federated identity. The account must retain
// at least one way to sign in afterwards.
func (s *ManageService) RemoveExternalLogin(ctx context.Context, accountID, provider, providerKey string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if s.accounts == nil {
		return fmt.Errorf("manage service not configured")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	if !account.HasPassword() {
		logins, lerr := s.accounts.ListExternalLogins(ctx, accountID)
		if lerr != nil {
			return fmt.Errorf("list external logins: %w", lerr)
		}
		if len(logins) <= 1 {
			return ErrLastSignInMethod
		}
	}

	if err := s.accounts.RemoveExternalLogin(ctx, accountID, strings.TrimSpace(provider), strings.TrimSpace(providerKey)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("remove external login: %w", err)
	}
	return nil
}

func (s *ManageService) publishTwoFactorToggled(ctx context.Context, accountID string, enabled bool) {
	if s.events == nil {
		return
	}
	event := domain.TwoFactorToggledEvent{
		EventID:   uuid.NewString(),
		AccountID: accountID,
		Enabled:   enabled,
		ChangedAt: s.now().UTC(),
	}
	if err := s.events.PublishTwoFactorToggled(ctx, event); err != nil {
		s.logger.Warn("publish two-factor toggled event failed",
			zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *ManageService) publishExternalLoginLinked(ctx context.Context, accountID, provider string) {
	if s.events == nil {
		return
	}
	event := domain.ExternalLoginLinkedEvent{
		EventID:   uuid.NewString(),
		AccountID: accountID,
		Provider:  provider,
		LinkedAt:  s.now().UTC(),
	}
	if err := s.events.PublishExternalLoginLinked(ctx, event); err != nil {
		s.logger.Warn("publish external login linked event failed",
			zap.String("account_id", accountID), zap.Error(err))
	}
}
