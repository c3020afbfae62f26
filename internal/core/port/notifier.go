package port

import (
	"context"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

// TokenDelivery carries a freshly minted secret to its destination.
// Link purposes populate Token; code purposes populate Code.
type TokenDelivery struct {
	Channel     string
	Destination string
	Purpose     domain.TokenPurpose
	Token       string
	Code        string
	ExpiresAt   time.Time
}

const (
	DeliveryChannelEmail = "email"
	DeliveryChannelSMS   = "sms"
)

// TokenTransport delivers secrets to account-controlled destinations.
// Delivery failures must not abort the operation that issued the secret;
// callers log them and continue.
type TokenTransport interface {
	Send(ctx context.Context, delivery TokenDelivery) error
}
