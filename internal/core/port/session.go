package port

import (
	"context"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

// Session is an issued principal the transport layer hands back to the client.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

// SessionIssuer mints sessions for fully authenticated accounts.
type SessionIssuer interface {
	Issue(ctx context.Context, account domain.Account, roles []string, rememberMe bool) (Session, error)
}
