package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
)

type twoFactorFixture struct {
	service   *TwoFactorService
	accounts  *fakeAccountRepo
	store     *fakeChallengeStore
	transport *fakeTransport
	clock     *testClock
}

func newTwoFactorFixture(t *testing.T, accounts ...domain.Account) *twoFactorFixture {
	t.Helper()
	repo := newFakeAccountRepo(accounts...)
	store := newFakeChallengeStore()
	transport := &fakeTransport{}
	clock := newTestClock()
	cfg := testConfig()

	tokens := newFakeTokenRepo()
	codec := NewTokenCodec(cfg, tokens, nil)
	codec.WithClock(clock.Now)

	lockout := NewLockoutPolicy(cfg, repo, &fakeEventPublisher{}, nil)
	lockout.WithClock(clock.Now)

	service := NewTwoFactorService(cfg, repo, newFakeRoleRepo(), codec, store, store, transport, lockout, &fakeSessionIssuer{}, nil)
	service.WithClock(clock.Now)

	return &twoFactorFixture{
		service:   service,
		accounts:  repo,
		store:     store,
		transport: transport,
		clock:     clock,
	}
}

func twoFactorAccount(t *testing.T) domain.Account {
	t.Helper()
	account := activeAccount(t, "acct-1", "alice", "alice@example.com", "correct horse")
	account.TwoFactorEnabled = true
	return account
}

// begin opens a challenge the way a successful primary sign-in does.
func (fx *twoFactorFixture) begin(t *testing.T, accountID string, rememberMe bool) *domain.TwoFactorChallenge {
	t.Helper()
	account, ok := fx.accounts.get(accountID)
	if !ok {
		t.Fatalf("unknown account %s", accountID)
	}
	challenge, err := fx.service.Begin(context.Background(), account, rememberMe)
	if err != nil {
		t.Fatalf("begin challenge: %v", err)
	}
	return challenge
}

func TestBeginStoresPendingChallenge(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))

	challenge := fx.begin(t, "acct-1", true)
	if challenge.ID == "" || challenge.AccountID != "acct-1" {
		t.Fatalf("unexpected challenge %+v", challenge)
	}
	if !challenge.RememberMe {
		t.Fatal("remember-me flag should be carried on the challenge")
	}
	if challenge.Provider != "" {
		t.Fatalf("no provider chosen yet, got %q", challenge.Provider)
	}

	// Nothing is dispatched until the client asks for a code.
	if len(fx.transport.deliveries) != 0 {
		t.Fatalf("expected no deliveries before send, got %d", len(fx.transport.deliveries))
	}
}

func TestSendCodeDeliversToChosenProvider(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	ctx := context.Background()

	challenge := fx.begin(t, "acct-1", false)

	sent, err := fx.service.SendCode(ctx, challenge.ID, domain.TwoFactorProviderEmail)
	if err != nil {
		t.Fatalf("send code: %v", err)
	}
	if sent.Provider != domain.TwoFactorProviderEmail {
		t.Fatalf("unexpected provider %q", sent.Provider)
	}

	delivery := fx.transport.last(t)
	if delivery.Channel != port.DeliveryChannelEmail || delivery.Destination != "alice@example.com" {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
	if delivery.Code == "" {
		t.Fatal("expected code delivery")
	}
}

func TestSendCodeRejectsUnknownChallenge(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))

	// A bare account ID is not enough to start the flow; only a challenge
	// minted by a successful primary sign-in is accepted.
	if _, err := fx.service.SendCode(context.Background(), "acct-1", domain.TwoFactorProviderEmail); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid, got %v", err)
	}
	if len(fx.transport.deliveries) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(fx.transport.deliveries))
	}
}

func TestSendCodeUnavailableProvider(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	challenge := fx.begin(t, "acct-1", false)

	// No confirmed phone on the account.
	if _, err := fx.service.SendCode(context.Background(), challenge.ID, domain.TwoFactorProviderPhone); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestSendCodeExpiredChallenge(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	challenge := fx.begin(t, "acct-1", false)

	fx.clock.Advance(11 * time.Minute)

	if _, err := fx.service.SendCode(context.Background(), challenge.ID, domain.TwoFactorProviderEmail); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestSendCodeSurvivesDeliveryFailure(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	fx.transport.fail = true

	challenge := fx.begin(t, "acct-1", false)

	if _, err := fx.service.SendCode(context.Background(), challenge.ID, domain.TwoFactorProviderEmail); err != nil {
		t.Fatalf("send code despite delivery failure: %v", err)
	}
	if _, err := fx.store.GetChallenge(context.Background(), challenge.ID); err != nil {
		t.Fatalf("challenge should remain redeemable: %v", err)
	}
}

func TestRedeemSuccess(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	ctx := context.Background()

	challenge := fx.begin(t, "acct-1", true)
	if _, err := fx.service.SendCode(ctx, challenge.ID, domain.TwoFactorProviderEmail); err != nil {
		t.Fatalf("send code: %v", err)
	}
	code := fx.transport.last(t).Code

	result, err := fx.service.Redeem(ctx, RedeemInput{ChallengeID: challenge.ID, Code: code})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Status != AuthStatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Session == nil {
		t.Fatal("expected session on completed sign-in")
	}

	// The challenge is settled; replaying it fails.
	if _, err := fx.service.Redeem(ctx, RedeemInput{ChallengeID: challenge.ID, Code: code}); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid on replay, got %v", err)
	}
}

func TestRedeemWrongCodeCountsTowardLockout(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	ctx := context.Background()

	challenge := fx.begin(t, "acct-1", false)
	if _, err := fx.service.SendCode(ctx, challenge.ID, domain.TwoFactorProviderEmail); err != nil {
		t.Fatalf("send code: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := fx.service.Redeem(ctx, RedeemInput{ChallengeID: challenge.ID, Code: "000000"}); !errors.Is(err, ErrTwoFactorCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrTwoFactorCodeInvalid, got %v", i+1, err)
		}
	}

	result, err := fx.service.Redeem(ctx, RedeemInput{ChallengeID: challenge.ID, Code: "000000"})
	if err != nil {
		t.Fatalf("third wrong code: %v", err)
	}
	if result.Status != AuthStatusLockedOut {
		t.Fatalf("third wrong code should lock the account, got %s", result.Status)
	}
}

func TestRedeemExpiredChallenge(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	ctx := context.Background()

	challenge := fx.begin(t, "acct-1", false)
	if _, err := fx.service.SendCode(ctx, challenge.ID, domain.TwoFactorProviderEmail); err != nil {
		t.Fatalf("send code: %v", err)
	}
	code := fx.transport.last(t).Code

	fx.clock.Advance(11 * time.Minute)

	if _, err := fx.service.Redeem(ctx, RedeemInput{ChallengeID: challenge.ID, Code: code}); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestRedeemUnknownChallenge(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))

	if _, err := fx.service.Redeem(context.Background(), RedeemInput{ChallengeID: "nope", Code: "123456"}); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid, got %v", err)
	}
}

func TestRedeemGuessingDoesNotLockAccount(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	ctx := context.Background()

	// Without a challenge born of a password check, guessed IDs and codes
	// never reach the target account's failure counter.
	for i := 0; i < 10; i++ {
		if _, err := fx.service.Redeem(ctx, RedeemInput{ChallengeID: "guess", Code: "000000"}); !errors.Is(err, ErrChallengeInvalid) {
			t.Fatalf("attempt %d: expected ErrChallengeInvalid, got %v", i+1, err)
		}
	}

	account, _ := fx.accounts.get("acct-1")
	if account.FailedAttempts != 0 {
		t.Fatalf("failure counter moved to %d from blind guesses", account.FailedAttempts)
	}
	if account.LockoutEnd != nil {
		t.Fatal("blind guessing must not lock the account")
	}
}

func TestRedeemRemembersClient(t *testing.T) {
	fx := newTwoFactorFixture(t, twoFactorAccount(t))
	ctx := context.Background()

	challenge := fx.begin(t, "acct-1", false)
	if _, err := fx.service.SendCode(ctx, challenge.ID, domain.TwoFactorProviderEmail); err != nil {
		t.Fatalf("send code: %v", err)
	}
	code := fx.transport.last(t).Code

	if _, err := fx.service.Redeem(ctx, RedeemInput{
		ChallengeID:    challenge.ID,
		Code:           code,
		RememberClient: true,
		ClientID:       "device-7",
	}); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	remembered, err := fx.store.IsClientRemembered(ctx, "acct-1", "device-7")
	if err != nil {
		t.Fatalf("is client remembered: %v", err)
	}
	if !remembered {
		t.Fatal("expected device-7 to be remembered")
	}

	if err := fx.service.ForgetRememberedClients(ctx, "acct-1"); err != nil {
		t.Fatalf("forget remembered clients: %v", err)
	}
	remembered, _ = fx.store.IsClientRemembered(ctx, "acct-1", "device-7")
	if remembered {
		t.Fatal("expected remembered clients to be dropped")
	}
}
