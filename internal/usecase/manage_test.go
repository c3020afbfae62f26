package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
)

type manageFixture struct {
	service   *ManageService
	accounts  *fakeAccountRepo
	store     *fakeChallengeStore
	transport *fakeTransport
	events    *fakeEventPublisher
	clock     *testClock
}

func newManageFixture(t *testing.T, accounts ...domain.Account) *manageFixture {
	t.Helper()
	repo := newFakeAccountRepo(accounts...)
	store := newFakeChallengeStore()
	transport := &fakeTransport{}
	events := &fakeEventPublisher{}
	clock := newTestClock()
	cfg := testConfig()

	codec := NewTokenCodec(cfg, newFakeTokenRepo(), nil)
	codec.WithClock(clock.Now)

	lockout := NewLockoutPolicy(cfg, repo, events, nil)
	lockout.WithClock(clock.Now)
	twoFactor := NewTwoFactorService(cfg, repo, newFakeRoleRepo(), codec, store, store, transport, lockout, &fakeSessionIssuer{}, nil)
	twoFactor.WithClock(clock.Now)

	service := NewManageService(cfg, repo, codec, transport, twoFactor, events, nil)
	service.WithClock(clock.Now)

	return &manageFixture{
		service:   service,
		accounts:  repo,
		store:     store,
		transport: transport,
		events:    events,
		clock:     clock,
	}
}

func TestPhoneChangeFlow(t *testing.T) {
	fx := newManageFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))
	ctx := context.Background()

	result, err := fx.service.BeginPhoneChange(ctx, "acct-1", "+15551234567")
	if err != nil {
		t.Fatalf("begin phone change: %v", err)
	}
	if result.Code == "" {
		t.Fatalf("expected confirmation code")
	}

	delivery := fx.transport.last(t)
	if delivery.Channel != port.DeliveryChannelSMS || delivery.Destination != "+15551234567" {
		t.Fatalf("code must go to the new number, got %+v", delivery)
	}

	// Nothing is stored until the code comes back.
	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.Phone != nil {
		t.Fatalf("phone must not be installed before confirmation")
	}

	if err := fx.service.ConfirmPhoneChange(ctx, "acct-1", result.Code); err != nil {
		t.Fatalf("confirm phone change: %v", err)
	}

	stored, _ = fx.accounts.GetByID(ctx, "acct-1")
	if stored.Phone == nil || *stored.Phone != "+15551234567" {
		t.Fatalf("expected phone installed, got %v", stored.Phone)
	}
	if !stored.PhoneConfirmed {
		t.Fatalf("expected phone confirmed")
	}
}

func TestConfirmPhoneChangeWrongCode(t *testing.T) {
	fx := newManageFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))
	ctx := context.Background()

	if _, err := fx.service.BeginPhoneChange(ctx, "acct-1", "+15551234567"); err != nil {
		t.Fatalf("begin phone change: %v", err)
	}

	if err := fx.service.ConfirmPhoneChange(ctx, "acct-1", "000000"); !errors.Is(err, ErrPhoneCodeInvalid) {
		t.Fatalf("expected ErrPhoneCodeInvalid, got %v", err)
	}
}

func TestConfirmPhoneChangeWrongAccount(t *testing.T) {
	fx := newManageFixture(t,
		activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"),
		activeAccount(t, "acct-2", "bob", "bob@example.com", "correct horse"),
	)
	ctx := context.Background()

	result, err := fx.service.BeginPhoneChange(ctx, "acct-1", "+15551234567")
	if err != nil {
		t.Fatalf("begin phone change: %v", err)
	}

	// A code minted for one account cannot confirm another.
	if err := fx.service.ConfirmPhoneChange(ctx, "acct-2", result.Code); !errors.Is(err, ErrPhoneCodeInvalid) {
		t.Fatalf("expected ErrPhoneCodeInvalid, got %v", err)
	}
}

func TestRemovePhone(t *testing.T) {
	phone := "+15551234567"
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.Phone = &phone
	account.PhoneConfirmed = true
	fx := newManageFixture(t, account)
	ctx := context.Background()

	if err := fx.service.RemovePhone(ctx, "acct-1"); err != nil {
		t.Fatalf("remove phone: %v", err)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.Phone != nil || stored.PhoneConfirmed {
		t.Fatalf("expected phone cleared")
	}

	if err := fx.service.RemovePhone(ctx, "acct-1"); !errors.Is(err, ErrPhoneMissing) {
		t.Fatalf("expected ErrPhoneMissing, got %v", err)
	}
}

func TestRemovePhoneDisablesOrphanedTwoFactor(t *testing.T) {
	phone := "+15551234567"
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.Phone = &phone
	account.PhoneConfirmed = true
	account.EmailConfirmed = false
	account.TwoFactorEnabled = true
	fx := newManageFixture(t, account)
	ctx := context.Background()

	if err := fx.service.RemovePhone(ctx, "acct-1"); err != nil {
		t.Fatalf("remove phone: %v", err)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.TwoFactorEnabled {
		t.Fatalf("two-factor must be disabled when no channel remains")
	}
}

func TestSetTwoFactorEnabled(t *testing.T) {
	fx := newManageFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))
	ctx := context.Background()

	if err := fx.service.SetTwoFactorEnabled(ctx, "acct-1", true); err != nil {
		t.Fatalf("enable two-factor: %v", err)
	}
	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if !stored.TwoFactorEnabled {
		t.Fatalf("expected two-factor enabled")
	}
	if fx.events.count("account.two_factor") != 1 {
		t.Fatalf("expected one toggle event")
	}

	// Enabling an enabled account is a no-op, no extra event.
	if err := fx.service.SetTwoFactorEnabled(ctx, "acct-1", true); err != nil {
		t.Fatalf("re-enable two-factor: %v", err)
	}
	if fx.events.count("account.two_factor") != 1 {
		t.Fatalf("idempotent toggle must not emit another event")
	}
}

func TestSetTwoFactorEnabledRequiresContact(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.EmailConfirmed = false
	fx := newManageFixture(t, account)

	if err := fx.service.SetTwoFactorEnabled(context.Background(), "acct-1", true); !errors.Is(err, ErrTwoFactorContactMissing) {
		t.Fatalf("expected ErrTwoFactorContactMissing, got %v", err)
	}
}

func TestDisableTwoFactorForgetsRememberedClients(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.TwoFactorEnabled = true
	fx := newManageFixture(t, account)
	ctx := context.Background()

	if err := fx.store.RememberClient(ctx, "acct-1", "device-7", 0); err != nil {
		t.Fatalf("remember client: %v", err)
	}

	if err := fx.service.SetTwoFactorEnabled(ctx, "acct-1", false); err != nil {
		t.Fatalf("disable two-factor: %v", err)
	}

	remembered, _ := fx.store.IsClientRemembered(ctx, "acct-1", "device-7")
	if remembered {
		t.Fatalf("disabling two-factor must drop trusted clients")
	}
}

func TestLinkExternalLogin(t *testing.T) {
	fx := newManageFixture(t,
		activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"),
		activeAccount(t, "acct-2", "bob", "bob@example.com", "correct horse"),
	)
	ctx := context.Background()

	if err := fx.service.LinkExternalLogin(ctx, "acct-1", "github", "gh-123", "Alice"); err != nil {
		t.Fatalf("link external login: %v", err)
	}
	if fx.events.count("account.external_login.linked") != 1 {
		t.Fatalf("expected one linked event")
	}

	// The same key cannot be linked again, to any account.
	if err := fx.service.LinkExternalLogin(ctx, "acct-1", "github", "gh-123", ""); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked on re-link, got %v", err)
	}
	if err := fx.service.LinkExternalLogin(ctx, "acct-2", "github", "gh-123", ""); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked for another account, got %v", err)
	}

	logins, err := fx.service.ListExternalLogins(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list external logins: %v", err)
	}
	if len(logins) != 1 || logins[0].ProviderKey != "gh-123" {
		t.Fatalf("unexpected logins %+v", logins)
	}
}

func TestRemoveExternalLoginKeepsLastSignInMethod(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "irrelevant")
	account.PasswordHash = ""
	fx := newManageFixture(t, account)
	ctx := context.Background()

	if err := fx.service.LinkExternalLogin(ctx, "acct-1", "github", "gh-123", ""); err != nil {
		t.Fatalf("link external login: %v", err)
	}

	// The only login on a passwordless account must stay.
	if err := fx.service.RemoveExternalLogin(ctx, "acct-1", "github", "gh-123"); !errors.Is(err, ErrLastSignInMethod) {
		t.Fatalf("expected ErrLastSignInMethod, got %v", err)
	}

	if err := fx.service.LinkExternalLogin(ctx, "acct-1", "google", "goo-456", ""); err != nil {
		t.Fatalf("link second login: %v", err)
	}
	if err := fx.service.RemoveExternalLogin(ctx, "acct-1", "github", "gh-123"); err != nil {
		t.Fatalf("remove with another login present: %v", err)
	}

	logins, _ := fx.service.ListExternalLogins(ctx, "acct-1")
	if len(logins) != 1 || logins[0].Provider != "google" {
		t.Fatalf("unexpected logins %+v", logins)
	}
}

func TestRemoveExternalLoginWithPassword(t *testing.T) {
	fx := newManageFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))
	ctx := context.Background()

	if err := fx.service.LinkExternalLogin(ctx, "acct-1", "github", "gh-123", ""); err != nil {
		t.Fatalf("link external login: %v", err)
	}

	// A password counts as a sign-in method, so the only login may go.
	if err := fx.service.RemoveExternalLogin(ctx, "acct-1", "github", "gh-123"); err != nil {
		t.Fatalf("remove external login: %v", err)
	}

	logins, _ := fx.service.ListExternalLogins(ctx, "acct-1")
	if len(logins) != 0 {
		t.Fatalf("expected no logins, got %+v", logins)
	}
}
