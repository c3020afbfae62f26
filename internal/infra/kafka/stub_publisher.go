package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishAccountRegistered logs accounts.account.registered events.
func (p *StubPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	payload := map[string]any{
		"account_id":          event.AccountID,
		"username":            event.Username,
		"email":               event.Email,
		"status":              event.Status,
		"registered_at":       event.RegisteredAt,
		"registration_method": event.RegistrationMethod,
		"metadata":            event.Metadata,
	}
	p.logEvent("accounts.account.registered", event.AccountID, event.RegisteredAt, payload)
	return nil
}

// PublishEmailConfirmed logs accounts.account.email_confirmed events.
func (p *StubPublisher) PublishEmailConfirmed(_ context.Context, event domain.EmailConfirmedEvent) error {
	payload := map[string]any{
		"account_id":   event.AccountID,
		"confirmed_at": event.ConfirmedAt,
		"metadata":     event.Metadata,
	}
	p.logEvent("accounts.account.email_confirmed", event.AccountID, event.ConfirmedAt, payload)
	return nil
}

// PublishPasswordChanged logs accounts.account.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"account_id": event.AccountID,
		"changed_at": event.ChangedAt,
		"changed_by": event.ChangedBy,
		"metadata":   event.Metadata,
	}
	p.logEvent("accounts.account.password.changed", event.AccountID, event.ChangedAt, payload)
	return nil
}

// PublishPasswordResetRequested logs accounts.account.password.reset_requested events.
func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := map[string]any{
		"account_id":         event.AccountID,
		"requested_at":       event.RequestedAt,
		"delivery_method":    event.DeliveryMethod,
		"masked_destination": event.MaskedDestination,
		"expires_at":         event.ExpiresAt,
		"metadata":           event.Metadata,
	}
	p.logEvent("accounts.account.password.reset_requested", event.AccountID, event.RequestedAt, payload)
	return nil
}

// PublishAccountLocked logs accounts.account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	payload := map[string]any{
		"account_id":  event.AccountID,
		"locked_at":   event.LockedAt,
		"lockout_end": event.LockoutEnd,
		"metadata":    event.Metadata,
	}
	p.logEvent("accounts.account.locked", event.AccountID, event.LockedAt, payload)
	return nil
}

// PublishExternalLoginLinked logs accounts.account.external_login.linked events.
func (p *StubPublisher) PublishExternalLoginLinked(_ context.Context, event domain.ExternalLoginLinkedEvent) error {
	payload := map[string]any{
		"account_id": event.AccountID,
		"provider":   event.Provider,
		"linked_at":  event.LinkedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("accounts.account.external_login.linked", event.AccountID, event.LinkedAt, payload)
	return nil
}

// PublishTwoFactorToggled logs accounts.account.two_factor events.
func (p *StubPublisher) PublishTwoFactorToggled(_ context.Context, event domain.TwoFactorToggledEvent) error {
	payload := map[string]any{
		"account_id": event.AccountID,
		"enabled":    event.Enabled,
		"changed_at": event.ChangedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("accounts.account.two_factor", event.AccountID, event.ChangedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
