package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

type authFixture struct {
	service   *AuthService
	twoFactor *TwoFactorService
	accounts  *fakeAccountRepo
	roles     *fakeRoleRepo
	store     *fakeChallengeStore
	transport *fakeTransport
	issuer    *fakeSessionIssuer
	clock     *testClock
}

func newAuthFixture(t *testing.T, accounts ...domain.Account) *authFixture {
	t.Helper()
	cfg := testConfig()
	repo := newFakeAccountRepo(accounts...)
	roles := newFakeRoleRepo()
	store := newFakeChallengeStore()
	transport := &fakeTransport{}
	issuer := &fakeSessionIssuer{}
	clock := newTestClock()

	lockout := NewLockoutPolicy(cfg, repo, &fakeEventPublisher{}, nil)
	lockout.WithClock(clock.Now)

	codec := NewTokenCodec(cfg, newFakeTokenRepo(), nil)
	codec.WithClock(clock.Now)

	twoFactor := NewTwoFactorService(cfg, repo, roles, codec, store, store, transport, lockout, issuer, nil)
	twoFactor.WithClock(clock.Now)

	service, err := NewAuthService(cfg, repo, roles, lockout, issuer, store, twoFactor, nil)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	service.WithClock(clock.Now)

	return &authFixture{
		service:   service,
		twoFactor: twoFactor,
		accounts:  repo,
		roles:     roles,
		store:     store,
		transport: transport,
		issuer:    issuer,
		clock:     clock,
	}
}

func activeAccount(t *testing.T, id, username, email, password string) domain.Account {
	t.Helper()
	return domain.Account{
		ID:             id,
		Username:       username,
		Email:          email,
		EmailConfirmed: true,
		PasswordHash:   mustHash(t, password),
		Status:         domain.AccountStatusActive,
		IsActive:       true,
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	fx := newAuthFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))
	fx.roles.roles["acct-1"] = []string{"user"}
	ctx := context.Background()

	result, err := fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Session == nil || result.Session.AccessToken == "" {
		t.Fatalf("expected an issued session")
	}
	if len(result.Roles) != 1 || result.Roles[0] != "user" {
		t.Fatalf("expected role grant to be returned, got %v", result.Roles)
	}
	if result.Account == nil || result.Account.PasswordHash != "" {
		t.Fatalf("returned account must not carry the password hash")
	}
	if result.Account.LastLogin == nil {
		t.Fatalf("expected last login to be stamped")
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.LastLogin == nil {
		t.Fatalf("expected last login persisted")
	}
}

func TestAuthenticateByEmail(t *testing.T) {
	fx := newAuthFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))

	result, err := fx.service.Authenticate(context.Background(), AuthInput{Identifier: "Alice@Example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("expected success via email identifier, got %s", result.Status)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	fx := newAuthFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))
	ctx := context.Background()

	result, err := fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "wrong"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusRejected {
		t.Fatalf("expected rejection, got %s", result.Status)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.FailedAttempts != 1 {
		t.Fatalf("wrong password should count toward lockout, got %d", stored.FailedAttempts)
	}
}

func TestAuthenticateUnknownIdentifierIndistinguishable(t *testing.T) {
	fx := newAuthFixture(t)

	result, err := fx.service.Authenticate(context.Background(), AuthInput{Identifier: "ghost", Password: "whatever"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusRejected {
		t.Fatalf("unknown identifier must produce the same rejection, got %s", result.Status)
	}
	if result.Account != nil || result.LockoutEnd != nil || len(result.Providers) != 0 {
		t.Fatalf("rejection must not leak account details")
	}
}

func TestAuthenticateLockoutAfterRepeatedFailures(t *testing.T) {
	fx := newAuthFixture(t, activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse"))
	ctx := context.Background()

	var result *AuthResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "wrong"})
		if err != nil {
			t.Fatalf("authenticate attempt %d: %v", i+1, err)
		}
	}
	if result.Status != AuthStatusLockedOut {
		t.Fatalf("third failure should lock the account, got %s", result.Status)
	}
	if result.LockoutEnd == nil {
		t.Fatalf("lockout result must carry the window end")
	}

	// The right password is refused while the window is active.
	result, err = fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate during lockout: %v", err)
	}
	if result.Status != AuthStatusLockedOut {
		t.Fatalf("locked account must refuse even the right password, got %s", result.Status)
	}

	// After the window elapses the right password signs in and clears state.
	fx.clock.Advance(6 * time.Minute)
	result, err = fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate after lockout: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("expected success after the window, got %s", result.Status)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.FailedAttempts != 0 || stored.LockoutEnd != nil {
		t.Fatalf("expected lockout state cleared after success")
	}
}

func TestAuthenticatePendingAccount(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.Status = domain.AccountStatusPending
	account.EmailConfirmed = false
	fx := newAuthFixture(t, account)
	ctx := context.Background()

	result, err := fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusRejected {
		t.Fatalf("pending account must be rejected, got %s", result.Status)
	}

	// The correct password against a pending account is not a failed attempt.
	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.FailedAttempts != 0 {
		t.Fatalf("pending rejection must not count toward lockout, got %d", stored.FailedAttempts)
	}
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.Status = domain.AccountStatusDisabled
	fx := newAuthFixture(t, account)

	result, err := fx.service.Authenticate(context.Background(), AuthInput{Identifier: "alice", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusRejected {
		t.Fatalf("disabled account must be rejected, got %s", result.Status)
	}
}

func TestAuthenticateExternalOnlyAccountRejectsPassword(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "irrelevant")
	account.PasswordHash = ""
	fx := newAuthFixture(t, account)

	result, err := fx.service.Authenticate(context.Background(), AuthInput{Identifier: "alice", Password: "anything"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusRejected {
		t.Fatalf("password sign-in to an external-only account must fail, got %s", result.Status)
	}
}

func TestAuthenticateTwoFactorGate(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.TwoFactorEnabled = true
	fx := newAuthFixture(t, account)
	ctx := context.Background()

	result, err := fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "correct horse"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusRequiresTwoFactor {
		t.Fatalf("expected two-factor gate, got %s", result.Status)
	}
	if result.Session != nil {
		t.Fatalf("no session may be issued before the second factor")
	}
	if len(result.Providers) != 1 || result.Providers[0] != domain.TwoFactorProviderEmail {
		t.Fatalf("expected email provider, got %v", result.Providers)
	}
	if result.Challenge == nil || result.Challenge.ID == "" {
		t.Fatalf("gated sign-in must hand out a challenge")
	}
	if _, err := fx.store.GetChallenge(ctx, result.Challenge.ID); err != nil {
		t.Fatalf("challenge must be stored for the verify step: %v", err)
	}
}

func TestAuthenticateTwoFactorFullFlow(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.TwoFactorEnabled = true
	fx := newAuthFixture(t, account)
	ctx := context.Background()

	gate, err := fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "correct horse", RememberMe: true})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if gate.Status != AuthStatusRequiresTwoFactor {
		t.Fatalf("expected gate, got %s", gate.Status)
	}

	if _, err := fx.twoFactor.SendCode(ctx, gate.Challenge.ID, domain.TwoFactorProviderEmail); err != nil {
		t.Fatalf("send code: %v", err)
	}
	code := fx.transport.last(t).Code

	result, err := fx.twoFactor.Redeem(ctx, RedeemInput{ChallengeID: gate.Challenge.ID, Code: code})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Session == nil {
		t.Fatalf("expected session after the second factor")
	}
}

func TestAuthenticateRememberedClientSkipsTwoFactor(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.TwoFactorEnabled = true
	fx := newAuthFixture(t, account)
	ctx := context.Background()

	if err := fx.store.RememberClient(ctx, "acct-1", "device-7", time.Hour); err != nil {
		t.Fatalf("remember client: %v", err)
	}

	result, err := fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "correct horse", ClientID: "device-7"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("remembered client should bypass the gate, got %s", result.Status)
	}
}

func TestAuthenticateExternal(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	fx := newAuthFixture(t, account)
	ctx := context.Background()

	if err := fx.accounts.LinkExternalLogin(ctx, domain.ExternalLogin{
		Provider:    "github",
		ProviderKey: "gh-123",
		AccountID:   "acct-1",
	}); err != nil {
		t.Fatalf("link external login: %v", err)
	}

	result, err := fx.service.AuthenticateExternal(ctx, "github", "gh-123", false, "")
	if err != nil {
		t.Fatalf("authenticate external: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}

	result, err = fx.service.AuthenticateExternal(ctx, "github", "gh-unknown", false, "")
	if err != nil {
		t.Fatalf("authenticate unknown external: %v", err)
	}
	if result.Status != AuthStatusRejected {
		t.Fatalf("unknown external identity must be rejected, got %s", result.Status)
	}
}

func TestAuthenticateExternalClearsFailureCounter(t *testing.T) {
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	fx := newAuthFixture(t, account)
	ctx := context.Background()

	if err := fx.accounts.LinkExternalLogin(ctx, domain.ExternalLogin{
		Provider:    "github",
		ProviderKey: "gh-123",
		AccountID:   "acct-1",
	}); err != nil {
		t.Fatalf("link external login: %v", err)
	}

	// Two bad password attempts, then a successful federated sign-in.
	for i := 0; i < 2; i++ {
		if _, err := fx.service.Authenticate(ctx, AuthInput{Identifier: "alice", Password: "wrong"}); err != nil {
			t.Fatalf("authenticate attempt %d: %v", i+1, err)
		}
	}

	result, err := fx.service.AuthenticateExternal(ctx, "github", "gh-123", false, "")
	if err != nil {
		t.Fatalf("authenticate external: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}

	stored, _ := fx.accounts.GetByID(ctx, "acct-1")
	if stored.FailedAttempts != 0 {
		t.Fatalf("federated success must reset the failure counter, got %d", stored.FailedAttempts)
	}
}

func TestAvailableProviders(t *testing.T) {
	phone := "+15551234567"
	account := domain.Account{EmailConfirmed: true, Phone: &phone, PhoneConfirmed: true}
	providers := AvailableProviders(account)
	if len(providers) != 2 {
		t.Fatalf("expected both providers, got %v", providers)
	}

	account.PhoneConfirmed = false
	providers = AvailableProviders(account)
	if len(providers) != 1 || providers[0] != domain.TwoFactorProviderEmail {
		t.Fatalf("unconfirmed phone must not be offered, got %v", providers)
	}
}
