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

const (
	defaultChallengeTTL      = 10 * time.Minute
	defaultRememberClientTTL = 14 * 24 * time.Hour
)

var (
	// ErrChallengeInvalid indicates the challenge does not exist or was already settled.
	ErrChallengeInvalid = errors.New("two-factor challenge invalid")
	// ErrChallengeExpired indicates the challenge elapsed before redemption.
	ErrChallengeExpired = errors.New("two-factor challenge expired")
	// ErrTwoFactorCodeInvalid indicates the submitted code does not match an outstanding one.
	ErrTwoFactorCodeInvalid = errors.New("two-factor code invalid")
	// ErrProviderUnavailable indicates the account has no confirmed destination for the provider.
	ErrProviderUnavailable = errors.New("two-factor provider unavailable")
)

// TwoFactorService manages the challenge between a successful password check
// and the code redemption that completes sign-in.
type TwoFactorService struct {
	cfg        *config.AppConfig
	accounts   port.AccountRepository
	roles      port.RoleRepository
	codec      *TokenCodec
	challenges port.ChallengeStore
	remembered port.RememberedClientStore
	transport  port.TokenTransport
	lockout    *LockoutPolicy
	sessions   port.SessionIssuer
	logger     *zap.Logger
	now        func() time.Time
}

// NewTwoFactorService constructs a TwoFactorService.
func NewTwoFactorService(
	cfg *config.AppConfig,
	accounts port.AccountRepository,
	roles port.RoleRepository,
	codec *TokenCodec,
	challenges port.ChallengeStore,
	remembered port.RememberedClientStore,
	transport port.TokenTransport,
	lockout *LockoutPolicy,
	sessions port.SessionIssuer,
	log *zap.Logger,
) *TwoFactorService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TwoFactorService{
		cfg:        cfg,
		accounts:   accounts,
		roles:      roles,
		codec:      codec,
		challenges: challenges,
		remembered: remembered,
		transport:  transport,
		lockout:    lockout,
		sessions:   sessions,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Begin records a pending challenge for an account whose primary credential
// was just verified. A challenge is the only handle through which codes can
// later be sent or redeemed; no code is dispatched until a provider is
// chosen via SendCode.
func (s *TwoFactorService) Begin(ctx context.Context, account domain.Account, rememberMe bool) (*domain.TwoFactorChallenge, error) {
	if s.challenges == nil || s.codec == nil {
		return nil, fmt.Errorf("two-factor service not configured")
	}
	if len(AvailableProviders(account)) == 0 {
		return nil, ErrProviderUnavailable
	}

	now := s.now().UTC()
	ttl := s.challengeTTL()
	challenge := domain.TwoFactorChallenge{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		RememberMe: rememberMe,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := s.challenges.SaveChallenge(ctx, challenge, ttl); err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}

	return &challenge, nil
}

// SendCode mints a fresh code for a pending challenge and dispatches it over
// the selected channel. Without a challenge born of a successful credential
// check there is nothing to send to; a bare account ID buys nothing. A
// delivery failure is logged and does not invalidate the challenge.
func (s *TwoFactorService) SendCode(ctx context.Context, challengeID string, provider domain.TwoFactorProvider) (*domain.TwoFactorChallenge, error) {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return nil, ErrChallengeInvalid
	}
	if s.challenges == nil || s.codec == nil {
		return nil, fmt.Errorf("two-factor service not configured")
	}

	challenge, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("lookup challenge: %w", err)
	}

	now := s.now().UTC()
	if challenge.IsExpired(now) {
		if derr := s.challenges.DeleteChallenge(ctx, challenge.ID); derr != nil {
			s.logger.Warn("delete expired challenge failed", zap.Error(derr))
		}
		return nil, ErrChallengeExpired
	}

	account, err := s.accounts.GetByID(ctx, challenge.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	destination, channel, err := destinationFor(*account, provider)
	if err != nil {
		return nil, err
	}

	issued, err := s.codec.Issue(ctx, account.ID, domain.TokenPurposeTwoFactor)
	if err != nil {
		return nil, err
	}

	challenge.Provider = provider
	if err := s.challenges.SaveChallenge(ctx, *challenge, challenge.ExpiresAt.Sub(now)); err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}

	s.dispatchCode(ctx, channel, destination, issued)

	return challenge, nil
}

// RedeemInput carries the submitted second factor.
type RedeemInput struct {
	ChallengeID    string
	Code           string
	RememberClient bool
	ClientID       string
}

// Redeem settles a pending challenge. A wrong code counts toward the lockout
// threshold exactly like a wrong password.
func (s *TwoFactorService) Redeem(ctx context.Context, input RedeemInput) (*AuthResult, error) {
	challengeID := strings.TrimSpace(input.ChallengeID)
	if challengeID == "" {
		return nil, fmt.Errorf("challenge id is required")
	}
	if strings.TrimSpace(input.Code) == "" {
		return nil, fmt.Errorf("code is required")
	}
	if s.challenges == nil || s.codec == nil {
		return nil, fmt.Errorf("two-factor service not configured")
	}

	challenge, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("lookup challenge: %w", err)
	}

	now := s.now().UTC()
	if challenge.IsExpired(now) {
		if derr := s.challenges.DeleteChallenge(ctx, challenge.ID); derr != nil {
			s.logger.Warn("delete expired challenge failed", zap.Error(derr))
		}
		return nil, ErrChallengeExpired
	}

	account, err := s.accounts.GetByID(ctx, challenge.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if locked, end := s.lockout.IsLocked(*account); locked {
		return &AuthResult{Status: AuthStatusLockedOut, LockoutEnd: &end}, nil
	}

	_, err = s.codec.ConsumeCode(ctx, account.ID, input.Code, domain.TokenPurposeTwoFactor)
	if err != nil && !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrTokenConsumed) {
		return nil, err
	}
	if err != nil {
		record, ferr := s.lockout.RecordFailure(ctx, *account)
		if ferr != nil && !errors.Is(ferr, repository.ErrNotFound) {
			return nil, ferr
		}
		if record.LockedOut {
			return &AuthResult{Status: AuthStatusLockedOut, LockoutEnd: record.LockoutEnd}, nil
		}
		return nil, ErrTwoFactorCodeInvalid
	}

	if err := s.lockout.RecordSuccess(ctx, *account); err != nil {
		return nil, err
	}

	if derr := s.challenges.DeleteChallenge(ctx, challenge.ID); derr != nil {
		s.logger.Warn("delete settled challenge failed", zap.Error(derr))
	}

	if input.RememberClient {
		s.rememberClient(ctx, account.ID, input.ClientID)
	}

	return s.finalize(ctx, *account, challenge.RememberMe)
}

// ForgetRememberedClients drops all trusted-client markers for the account.
func (s *TwoFactorService) ForgetRememberedClients(ctx context.Context, accountID string) error {
	if s.remembered == nil {
		return nil
	}
	if err := s.remembered.ForgetClients(ctx, strings.TrimSpace(accountID)); err != nil {
		return fmt.Errorf("forget remembered clients: %w", err)
	}
	return nil
}

func (s *TwoFactorService) finalize(ctx context.Context, account domain.Account, rememberMe bool) (*AuthResult, error) {
	var roles []string
	if s.roles != nil {
		listed, err := s.roles.RolesForAccount(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("list account roles: %w", err)
		}
		roles = listed
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

func (s *TwoFactorService) rememberClient(ctx context.Context, accountID, clientID string) {
	clientID = strings.TrimSpace(clientID)
	if s.remembered == nil || clientID == "" {
		return
	}
	ttl := defaultRememberClientTTL
	if s.cfg != nil && s.cfg.TwoFactor.RememberClientTTL > 0 {
		ttl = s.cfg.TwoFactor.RememberClientTTL
	}
	if err := s.remembered.RememberClient(ctx, accountID, clientID, ttl); err != nil {
		s.logger.Warn("remember client failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *TwoFactorService) dispatchCode(ctx context.Context, channel, destination string, issued *IssuedToken) {
	if s.transport == nil {
		return
	}
	delivery := port.TokenDelivery{
		Channel:     channel,
		Destination: destination,
		Purpose:     domain.TokenPurposeTwoFactor,
		Code:        issued.Secret,
		ExpiresAt:   issued.Record.ExpiresAt,
	}
	if err := s.transport.Send(ctx, delivery); err != nil {
		s.logger.Warn("two-factor code delivery failed",
			zap.String("channel", channel),
			zap.String("destination", logger.MaskString(destination)),
			zap.Error(err))
	}
}

func (s *TwoFactorService) challengeTTL() time.Duration {
	if s.cfg != nil && s.cfg.TwoFactor.ChallengeTTL > 0 {
		return s.cfg.TwoFactor.ChallengeTTL
	}
	return defaultChallengeTTL
}

func destinationFor(account domain.Account, provider domain.TwoFactorProvider) (destination, channel string, err error) {
	switch provider {
	case domain.TwoFactorProviderEmail:
		if !account.EmailConfirmed || strings.TrimSpace(account.Email) == "" {
			return "", "", ErrProviderUnavailable
		}
		return account.Email, port.DeliveryChannelEmail, nil
	case domain.TwoFactorProviderPhone:
		if account.Phone == nil || !account.PhoneConfirmed {
			return "", "", ErrProviderUnavailable
		}
		return *account.Phone, port.DeliveryChannelSMS, nil
	default:
		return "", "", ErrProviderUnavailable
	}
}
