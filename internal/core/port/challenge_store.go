package port

import (
	"context"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

// ChallengeStore persists in-flight two-factor challenges.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, challenge domain.TwoFactorChallenge, ttl time.Duration) error
	GetChallenge(ctx context.Context, id string) (*domain.TwoFactorChallenge, error)
	DeleteChallenge(ctx context.Context, id string) error
}

// RememberedClientStore tracks clients the account chose to trust after a
// completed second-factor check.
type RememberedClientStore interface {
	RememberClient(ctx context.Context, accountID, clientID string, ttl time.Duration) error
	IsClientRemembered(ctx context.Context, accountID, clientID string) (bool, error)
	ForgetClients(ctx context.Context, accountID string) error
}
