package port

import (
	"context"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

// TokenRepository manages single-use security token records.
type TokenRepository interface {
	Create(ctx context.Context, token domain.SecurityToken) error
	GetByHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.SecurityToken, error)
	// Consume marks the token used if and only if it is still unused.
	// Returns repository.ErrNotFound when another caller won the race.
	Consume(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, expiredBefore time.Time) (int, error)
}
