package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

const (
	defaultChallengePrefix = "accounts"

	challengeKeySegment = "2fa:challenge"
	rememberKeySegment  = "2fa:remember"
)

// ChallengeRepository persists pending two-factor challenges and
// remembered-client markers in Redis.
type ChallengeRepository struct {
	client *red.Client
	prefix string
}

// NewChallengeRepository constructs a repository with the provided Redis client and key prefix.
func NewChallengeRepository(client *red.Client, keyPrefix string) *ChallengeRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultChallengePrefix
	}

	return &ChallengeRepository{
		client: client,
		prefix: prefix,
	}
}

type challengeRecord struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Provider   string    `json:"provider"`
	RememberMe bool      `json:"remember_me"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SaveChallenge stores a challenge under its identifier with the supplied TTL.
func (r *ChallengeRepository) SaveChallenge(ctx context.Context, challenge domain.TwoFactorChallenge, ttl time.Duration) error {
	if strings.TrimSpace(challenge.ID) == "" {
		return errors.New("challenge id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(challengeRecord{
		ID:         challenge.ID,
		AccountID:  challenge.AccountID,
		Provider:   string(challenge.Provider),
		RememberMe: challenge.RememberMe,
		CreatedAt:  challenge.CreatedAt.UTC(),
		ExpiresAt:  challenge.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}

	if err := r.client.Set(ctx, r.challengeKey(challenge.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set challenge: %w", err)
	}

	return nil
}

// GetChallenge retrieves a pending challenge by identifier.
func (r *ChallengeRepository) GetChallenge(ctx context.Context, id string) (*domain.TwoFactorChallenge, error) {
	payload, err := r.client.Get(ctx, r.challengeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get challenge: %w", err)
	}

	var record challengeRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}

	return &domain.TwoFactorChallenge{
		ID:         record.ID,
		AccountID:  record.AccountID,
		Provider:   domain.TwoFactorProvider(record.Provider),
		RememberMe: record.RememberMe,
		CreatedAt:  record.CreatedAt,
		ExpiresAt:  record.ExpiresAt,
	}, nil
}

// DeleteChallenge removes a pending challenge. Deleting an unknown
// challenge is a no-op.
func (r *ChallengeRepository) DeleteChallenge(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.challengeKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete challenge: %w", err)
	}
	return nil
}

// RememberClient records that a client completed two-factor verification
// so subsequent sign-ins from it skip the second factor until the TTL lapses.
func (r *ChallengeRepository) RememberClient(ctx context.Context, accountID, clientID string, ttl time.Duration) error {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(clientID) == "" {
		return errors.New("account id and client id are required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	if err := r.client.Set(ctx, r.rememberKey(accountID, clientID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis remember client: %w", err)
	}

	return nil
}

// IsClientRemembered reports whether a remembered-client marker exists.
func (r *ChallengeRepository) IsClientRemembered(ctx context.Context, accountID, clientID string) (bool, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(clientID) == "" {
		return false, nil
	}

	count, err := r.client.Exists(ctx, r.rememberKey(accountID, clientID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check remembered client: %w", err)
	}

	return count > 0, nil
}

// ForgetClients removes every remembered-client marker for an account.
func (r *ChallengeRepository) ForgetClients(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return errors.New("account id is required")
	}

	pattern := r.rememberKey(accountID, "*")
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis forget client: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan remembered clients: %w", err)
	}

	return nil
}

func (r *ChallengeRepository) challengeKey(id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, challengeKeySegment, id)
}

func (r *ChallengeRepository) rememberKey(accountID, clientID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, rememberKeySegment, accountID, clientID)
}

var (
	_ port.ChallengeStore        = (*ChallengeRepository)(nil)
	_ port.RememberedClientStore = (*ChallengeRepository)(nil)
)
