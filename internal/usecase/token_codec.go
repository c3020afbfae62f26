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
	linkTokenByteLength = 32
	numericCodeLength   = 6
	issueAttempts       = 3

	defaultEmailConfirmationTTL = 48 * time.Hour
	defaultPasswordResetTTL     = time.Hour
	defaultPhoneChangeTTL       = 5 * time.Minute
	defaultTwoFactorTTL         = 5 * time.Minute
)

var (
	// ErrTokenInvalid indicates the presented secret matches no outstanding token of the purpose.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired indicates the token exists but its validity window elapsed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenConsumed indicates the token was already redeemed.
	ErrTokenConsumed = errors.New("token already used")
)

// IssuedToken pairs a persisted token record with the raw secret that is
// returned to the caller exactly once. Only the hash is stored.
type IssuedToken struct {
	Record domain.SecurityToken
	Secret string
}

// IssueOption customizes a token before it is persisted.
type IssueOption func(*domain.SecurityToken)

// WithNewPhone attaches the pending phone number to a phone change token.
func WithNewPhone(phone string) IssueOption {
	return func(t *domain.SecurityToken) {
		trimmed := strings.TrimSpace(phone)
		if trimmed != "" {
			t.NewPhone = &trimmed
		}
	}
}

// WithTokenMetadata attaches free-form metadata to the token record.
func WithTokenMetadata(metadata map[string]any) IssueOption {
	return func(t *domain.SecurityToken) {
		t.Metadata = metadataCopy(metadata)
	}
}

// TokenCodec mints, validates, and consumes purpose-bound single-use tokens.
// Link purposes carry a 32-byte random secret; code purposes carry a short
// numeric code whose guessability is bounded by the lockout policy upstream.
type TokenCodec struct {
	cfg    *config.AppConfig
	tokens port.TokenRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenCodec constructs a TokenCodec.
func NewTokenCodec(cfg *config.AppConfig, tokens port.TokenRepository, logger *zap.Logger) *TokenCodec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCodec{
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows tests to override the clock used by the codec.
func (c *TokenCodec) WithClock(clock func() time.Time) {
	if clock != nil {
		c.now = clock
	}
}

// Issue mints a new token for the account and purpose. Outstanding tokens of
// the same purpose stay valid; issuing is purely additive. Numeric codes are
// hashed together with the account ID, so equal codes held by different
// accounts never collide in storage and a code only ever redeems for the
// account it was minted for. A hash collision within the account retries
// with a fresh secret.
func (c *TokenCodec) Issue(ctx context.Context, accountID string, purpose domain.TokenPurpose, opts ...IssueOption) (*IssuedToken, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if c.tokens == nil {
		return nil, fmt.Errorf("token repository not configured")
	}

	for attempt := 0; ; attempt++ {
		var secret string
		var err error
		if purpose.IsCode() {
			secret, err = security.GenerateNumericCode(numericCodeLength)
		} else {
			secret, err = security.GenerateSecureToken(linkTokenByteLength)
		}
		if err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}

		now := c.now().UTC()
		record := domain.SecurityToken{
			ID:        uuid.NewString(),
			AccountID: accountID,
			TokenHash: c.hashSecret(accountID, purpose, secret),
			Purpose:   purpose,
			CreatedAt: now,
			ExpiresAt: now.Add(c.ttlFor(purpose)),
		}
		for _, opt := range opts {
			opt(&record)
		}

		if err := c.tokens.Create(ctx, record); err != nil {
			if errors.Is(err, repository.ErrDuplicate) && attempt < issueAttempts-1 {
				continue
			}
			return nil, fmt.Errorf("store %s token: %w", purpose, err)
		}

		return &IssuedToken{Record: record, Secret: secret}, nil
	}
}

// Validate resolves a link secret to its token record without consuming it.
// A secret presented under the wrong purpose is indistinguishable from an
// unknown one. Code purposes resolve through ValidateCode.
func (c *TokenCodec) Validate(ctx context.Context, secret string, purpose domain.TokenPurpose) (*domain.SecurityToken, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrTokenInvalid
	}
	return c.validateHash(ctx, security.HashToken(secret), purpose)
}

// ValidateCode resolves a numeric code within the account it was issued for.
// A code minted for another account is indistinguishable from a wrong one.
func (c *TokenCodec) ValidateCode(ctx context.Context, accountID, code string, purpose domain.TokenPurpose) (*domain.SecurityToken, error) {
	accountID = strings.TrimSpace(accountID)
	code = strings.TrimSpace(code)
	if accountID == "" || code == "" {
		return nil, ErrTokenInvalid
	}
	return c.validateHash(ctx, c.hashSecret(accountID, purpose, code), purpose)
}

// Consume validates the link secret and atomically marks it used. Concurrent
// redemptions of the same secret see exactly one winner; the rest get
// ErrTokenConsumed.
func (c *TokenCodec) Consume(ctx context.Context, secret string, purpose domain.TokenPurpose) (*domain.SecurityToken, error) {
	token, err := c.Validate(ctx, secret, purpose)
	if err != nil {
		return nil, err
	}
	return c.consumeValidated(ctx, token, purpose)
}

// ConsumeCode validates an account-bound numeric code and atomically marks it
// used, with the same one-winner semantics as Consume.
func (c *TokenCodec) ConsumeCode(ctx context.Context, accountID, code string, purpose domain.TokenPurpose) (*domain.SecurityToken, error) {
	token, err := c.ValidateCode(ctx, accountID, code, purpose)
	if err != nil {
		return nil, err
	}
	return c.consumeValidated(ctx, token, purpose)
}

func (c *TokenCodec) validateHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.SecurityToken, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("token repository not configured")
	}

	token, err := c.tokens.GetByHash(ctx, hash, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("lookup %s token: %w", purpose, err)
	}

	if token.IsConsumed() {
		return nil, ErrTokenConsumed
	}
	if token.IsExpired(c.now().UTC()) {
		return nil, ErrTokenExpired
	}

	return token, nil
}

func (c *TokenCodec) consumeValidated(ctx context.Context, token *domain.SecurityToken, purpose domain.TokenPurpose) (*domain.SecurityToken, error) {
	if err := c.tokens.Consume(ctx, token.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenConsumed
		}
		return nil, fmt.Errorf("consume %s token: %w", purpose, err)
	}

	token.Consume(c.now().UTC())
	return token, nil
}

func (c *TokenCodec) hashSecret(accountID string, purpose domain.TokenPurpose, secret string) string {
	if purpose.IsCode() {
		return security.HashToken(accountID + ":" + secret)
	}
	return security.HashToken(secret)
}

// PurgeExpired removes tokens whose validity window elapsed before the cutoff.
func (c *TokenCodec) PurgeExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	if c.tokens == nil {
		return 0, fmt.Errorf("token repository not configured")
	}
	cutoff := c.now().UTC().Add(-olderThan)
	removed, err := c.tokens.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return removed, nil
}

func (c *TokenCodec) ttlFor(purpose domain.TokenPurpose) time.Duration {
	var ttl time.Duration
	if c.cfg != nil {
		switch purpose {
		case domain.TokenPurposeEmailConfirmation:
			ttl = c.cfg.Tokens.EmailConfirmationTTL
		case domain.TokenPurposePasswordReset:
			ttl = c.cfg.Tokens.PasswordResetTTL
		case domain.TokenPurposePhoneChange:
			ttl = c.cfg.Tokens.PhoneChangeTTL
		case domain.TokenPurposeTwoFactor:
			ttl = c.cfg.Tokens.TwoFactorTTL
		}
	}
	if ttl > 0 {
		return ttl
	}

	switch purpose {
	case domain.TokenPurposeEmailConfirmation:
		return defaultEmailConfirmationTTL
	case domain.TokenPurposePasswordReset:
		return defaultPasswordResetTTL
	case domain.TokenPurposePhoneChange:
		return defaultPhoneChangeTTL
	default:
		return defaultTwoFactorTTL
	}
}
