package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/infra/config"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 5 * time.Minute
)

// ErrAccountLocked indicates the account is inside an active lockout window.
var ErrAccountLocked = errors.New("account locked out")

// LockoutPolicy tracks consecutive failed proof attempts per account and
// enforces a temporary lockout once the threshold is reached. State lives on
// the account row so it survives restarts; expiry is evaluated lazily against
// the stored lockout end.
type LockoutPolicy struct {
	cfg      *config.AppConfig
	accounts port.AccountRepository
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewLockoutPolicy constructs a LockoutPolicy.
func NewLockoutPolicy(cfg *config.AppConfig, accounts port.AccountRepository, events port.EventPublisher, logger *zap.Logger) *LockoutPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockoutPolicy{
		cfg:      cfg,
		accounts: accounts,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the policy.
func (p *LockoutPolicy) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
	}
}

// MaxAttempts returns the configured failure threshold.
func (p *LockoutPolicy) MaxAttempts() int {
	if p.cfg != nil && p.cfg.Lockout.MaxFailedAttempts > 0 {
		return p.cfg.Lockout.MaxFailedAttempts
	}
	return defaultMaxFailedAttempts
}

// Duration returns the configured lockout window length.
func (p *LockoutPolicy) Duration() time.Duration {
	if p.cfg != nil && p.cfg.Lockout.Duration > 0 {
		return p.cfg.Lockout.Duration
	}
	return defaultLockoutDuration
}

// IsLocked reports whether the account is locked out right now, together with
// the moment the window ends. An elapsed window reads as unlocked without any
// write; the stale counter is cleared on the next successful proof.
func (p *LockoutPolicy) IsLocked(account domain.Account) (bool, time.Time) {
	if account.LockoutEnd == nil {
		return false, time.Time{}
	}
	end := account.LockoutEnd.UTC()
	if !end.After(p.now().UTC()) {
		return false, time.Time{}
	}
	return true, end
}

// RecordFailure registers one failed proof attempt. The counter increment and
// the threshold rollover happen in a single statement, so concurrent failures
// against the same account never lose updates. Returns the resulting state.
func (p *LockoutPolicy) RecordFailure(ctx context.Context, account domain.Account) (port.FailureRecord, error) {
	if p.accounts == nil {
		return port.FailureRecord{}, fmt.Errorf("account repository not configured")
	}

	lockoutEnd := p.now().UTC().Add(p.Duration())
	record, err := p.accounts.RecordFailedAttempt(ctx, account.ID, p.MaxAttempts(), lockoutEnd)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return port.FailureRecord{}, err
		}
		return port.FailureRecord{}, fmt.Errorf("record failed attempt: %w", err)
	}

	if record.LockedOut {
		p.logger.Warn("account locked out",
			zap.String("account_id", account.ID),
			zap.Time("lockout_end", lockoutEnd))
		p.publishLocked(ctx, account.ID, lockoutEnd)
	}

	return record, nil
}

// RecordSuccess clears the failure counter and any stale lockout marker after
// a successful proof.
func (p *LockoutPolicy) RecordSuccess(ctx context.Context, account domain.Account) error {
	if p.accounts == nil {
		return fmt.Errorf("account repository not configured")
	}
	if account.FailedAttempts == 0 && account.LockoutEnd == nil {
		return nil
	}
	if err := p.accounts.ClearLockout(ctx, account.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}

func (p *LockoutPolicy) publishLocked(ctx context.Context, accountID string, lockoutEnd time.Time) {
	if p.events == nil {
		return
	}
	event := domain.AccountLockedEvent{
		EventID:    uuid.NewString(),
		AccountID:  accountID,
		LockedAt:   p.now().UTC(),
		LockoutEnd: lockoutEnd,
	}
	if err := p.events.PublishAccountLocked(ctx, event); err != nil {
		p.logger.Warn("publish account locked event failed", zap.String("account_id", accountID), zap.Error(err))
	}
}
