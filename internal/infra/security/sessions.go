package security

import (
	"context"
	"fmt"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/infra/config"
)

const defaultRememberMeTTL = 30 * 24 * time.Hour

// JWTSessionIssuer mints RS256 access tokens for authenticated accounts.
// The remember-me flag stretches the token lifetime instead of persisting
// server-side session state.
type JWTSessionIssuer struct {
	cfg     *config.AppConfig
	manager *JWTManager
	kid     string
	now     func() time.Time
}

var _ port.SessionIssuer = (*JWTSessionIssuer)(nil)

// NewJWTSessionIssuer constructs a JWTSessionIssuer.
func NewJWTSessionIssuer(cfg *config.AppConfig, manager *JWTManager, kid string) (*JWTSessionIssuer, error) {
	if manager == nil {
		return nil, fmt.Errorf("jwt manager is required")
	}
	if kid == "" {
		return nil, ErrKeyIDMissing
	}
	return &JWTSessionIssuer{
		cfg:     cfg,
		manager: manager,
		kid:     kid,
		now:     time.Now,
	}, nil
}

// WithClock allows tests to override the clock used by the issuer.
func (i *JWTSessionIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// Issue signs an access token carrying the account identity and roles.
func (i *JWTSessionIssuer) Issue(_ context.Context, account domain.Account, roles []string, rememberMe bool) (port.Session, error) {
	now := i.now().UTC()
	ttl := i.ttl(rememberMe)

	issuer := "accounts-service"
	if i.cfg != nil && i.cfg.App.Name != "" {
		issuer = i.cfg.App.Name
	}

	claims, err := NewAccessTokenClaims(AccessTokenOptions{
		AccountID: account.ID,
		Roles:     roles,
		Issuer:    issuer,
		Audience:  []string{issuer},
		Subject:   HashToken(account.ID + ":" + issuer),
		TTL:       ttl,
		IssuedAt:  now,
	})
	if err != nil {
		return port.Session{}, err
	}

	signed, err := i.manager.SignAccessToken(i.kid, claims)
	if err != nil {
		return port.Session{}, err
	}

	return port.Session{
		AccessToken: signed,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

func (i *JWTSessionIssuer) ttl(rememberMe bool) time.Duration {
	if rememberMe {
		if i.cfg != nil && i.cfg.JWT.RememberMeTTL > 0 {
			return i.cfg.JWT.RememberMeTTL
		}
		return defaultRememberMeTTL
	}
	if i.cfg != nil && i.cfg.JWT.AccessTokenTTL > 0 {
		return i.cfg.JWT.AccessTokenTTL
	}
	return defaultAccessTokenTTL
}
