package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/infra/security"
)

type resetFixture struct {
	service   *PasswordResetService
	accounts  *fakeAccountRepo
	transport *fakeTransport
	events    *fakeEventPublisher
	limits    *fakeRateLimitStore
	clock     *testClock
}

func newResetFixture(t *testing.T, policy port.PasswordPolicyValidator, accounts ...domain.Account) *resetFixture {
	t.Helper()
	repo := newFakeAccountRepo(accounts...)
	transport := &fakeTransport{}
	events := &fakeEventPublisher{}
	limits := newFakeRateLimitStore()
	clock := newTestClock()
	cfg := testConfig()

	codec := NewTokenCodec(cfg, newFakeTokenRepo(), nil)
	codec.WithClock(clock.Now)

	if policy == nil {
		policy = permissivePolicy{}
	}
	service := NewPasswordResetService(cfg, repo, codec, transport, limits, events, policy, nil)
	service.WithClock(clock.Now)

	return &resetFixture{
		service:   service,
		accounts:  repo,
		transport: transport,
		events:    events,
		limits:    limits,
		clock:     clock,
	}
}

func TestRequestPasswordReset(t *testing.T) {
	fx := newResetFixture(t, nil, activeAccount(t, "acct-1", "alice", "alice@example.com", "old password"))
	ctx := context.Background()

	result, err := fx.service.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if result.AccountID != "acct-1" || result.Token == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	delivery := fx.transport.last(t)
	if delivery.Purpose != domain.TokenPurposePasswordReset || delivery.Token != result.Token {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
	if fx.events.count("account.password.reset_requested") != 1 {
		t.Fatalf("expected one reset requested event")
	}
}

func TestRequestPasswordResetUnknownIdentifier(t *testing.T) {
	fx := newResetFixture(t, nil)

	if _, err := fx.service.RequestPasswordReset(context.Background(), "ghost@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRequestPasswordResetUnconfirmedEmail(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "old password")
	account.EmailConfirmed = false
	fx := newResetFixture(t, nil, account)

	// Same outcome as an unknown identifier.
	if _, err := fx.service.RequestPasswordReset(context.Background(), "alice@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if len(fx.transport.deliveries) != 0 {
		t.Fatalf("no delivery may leave for an unconfirmed address")
	}
}

func TestRequestPasswordResetRateLimited(t *testing.T) {
	fx := newResetFixture(t, nil, activeAccount(t, "acct-1", "alice", "alice@example.com", "old password"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := fx.service.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := fx.service.RequestPasswordReset(ctx, "alice@example.com")
	var rateErr *RateLimitExceededError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if rateErr.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", rateErr.RetryAfter)
	}

	// The window slides; an hour later requests flow again.
	fx.clock.Advance(time.Hour + time.Minute)
	if _, err := fx.service.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("request after window: %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	fx := newResetFixture(t, nil, activeAccount(t, "acct-1", "alice", "alice@example.com", "old password"))
	ctx := context.Background()

	result, err := fx.service.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}

	if err := fx.service.ResetPassword(ctx, result.Token, "brand new passphrase"); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	ok, err := security.VerifyPassword("brand new passphrase", stored.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("new password should verify, ok=%v err=%v", ok, err)
	}
	if fx.events.count("account.password.changed") != 1 {
		t.Fatalf("expected one password changed event")
	}

	// The token is spent.
	if err := fx.service.ResetPassword(ctx, result.Token, "another passphrase"); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed on reuse, got %v", err)
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	fx := newResetFixture(t, nil, activeAccount(t, "acct-1", "alice", "alice@example.com", "old password"))
	ctx := context.Background()

	result, err := fx.service.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}

	fx.clock.Advance(2 * time.Hour)

	if err := fx.service.ResetPassword(ctx, result.Token, "brand new passphrase"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestResetPasswordPolicyCheckedBeforeConsume(t *testing.T) {
	fx := newResetFixture(t, rejectingPolicy{}, activeAccount(t, "acct-1", "alice", "alice@example.com", "old password"))
	ctx := context.Background()

	result, err := fx.service.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}

	if err := fx.service.ResetPassword(ctx, result.Token, "weak"); !errors.Is(err, ErrPasswordPolicyViolation) {
		t.Fatalf("expected ErrPasswordPolicyViolation, got %v", err)
	}

	// The rejected attempt must not burn the token.
	if err := fx.service.ResetPassword(ctx, result.Token, "still weak"); !errors.Is(err, ErrPasswordPolicyViolation) {
		t.Fatalf("token should survive a policy rejection, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	fx := newResetFixture(t, nil, activeAccount(t, "acct-1", "alice", "alice@example.com", "old password"))
	ctx := context.Background()

	if err := fx.service.ChangePassword(ctx, "acct-1", "wrong", "new passphrase"); !errors.Is(err, ErrCurrentPasswordInvalid) {
		t.Fatalf("expected ErrCurrentPasswordInvalid, got %v", err)
	}

	if err := fx.service.ChangePassword(ctx, "acct-1", "old password", "new passphrase"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if ok, _ := security.VerifyPassword("new passphrase", stored.PasswordHash); !ok {
		t.Fatalf("new password should verify")
	}
	if ok, _ := security.VerifyPassword("old password", stored.PasswordHash); ok {
		t.Fatalf("old password must stop working")
	}
}

func TestChangePasswordExternalOnlyAccount(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "irrelevant")
	account.PasswordHash = ""
	fx := newResetFixture(t, nil, account)

	if err := fx.service.ChangePassword(context.Background(), "acct-1", "anything", "new passphrase"); !errors.Is(err, ErrNoPasswordSet) {
		t.Fatalf("expected ErrNoPasswordSet, got %v", err)
	}
}

func TestSetPassword(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "irrelevant")
	account.PasswordHash = ""
	fx := newResetFixture(t, nil, account)
	ctx := context.Background()

	if err := fx.service.SetPassword(ctx, "acct-1", "initial passphrase"); err != nil {
		t.Fatalf("set password: %v", err)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if ok, _ := security.VerifyPassword("initial passphrase", stored.PasswordHash); !ok {
		t.Fatalf("installed password should verify")
	}

	if err := fx.service.SetPassword(ctx, "acct-1", "second passphrase"); !errors.Is(err, ErrPasswordAlreadySet) {
		t.Fatalf("expected ErrPasswordAlreadySet, got %v", err)
	}
}
