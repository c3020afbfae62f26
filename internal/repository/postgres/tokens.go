package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

var tokenColumns = []string{
	"id",
	"account_id",
	"token_hash",
	"purpose",
	"new_phone",
	"created_at",
	"expires_at",
	"used_at",
	"metadata",
}

// TokenRepository implements port.TokenRepository using PostgreSQL.
type TokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	repo := &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new security token record.
func (r *TokenRepository) Create(ctx context.Context, token domain.SecurityToken) error {
	metadata, err := marshalMetadata(token.Metadata)
	if err != nil {
		return fmt.Errorf("prepare token metadata: %w", err)
	}

	stmt, args, err := r.builder.Insert("accounts.security_tokens").
		Columns(tokenColumns...).
		Values(
			token.ID,
			token.AccountID,
			token.TokenHash,
			token.Purpose,
			token.NewPhone,
			token.CreatedAt,
			token.ExpiresAt,
			token.UsedAt,
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert security token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert security token: %w", err)
	}

	return nil
}

// GetByHash retrieves a token by its hashed secret, scoped to the purpose.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.SecurityToken, error) {
	stmt, args, err := r.builder.Select(tokenColumns...).
		From("accounts.security_tokens").
		Where(squirrel.Eq{"token_hash": hash, "purpose": purpose}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select security token sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token    domain.SecurityToken
		newPhone sql.NullString
		usedAt   *time.Time
		metadata []byte
	)
	if err := row.Scan(
		&token.ID,
		&token.AccountID,
		&token.TokenHash,
		&token.Purpose,
		&newPhone,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
		&metadata,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan security token: %w", err)
	}

	if newPhone.Valid {
		val := newPhone.String
		token.NewPhone = &val
	}
	token.UsedAt = usedAt
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &token.Metadata); err != nil {
			return nil, fmt.Errorf("decode token metadata: %w", err)
		}
	}

	return &token, nil
}

// Consume marks the token used if and only if it is still unused. The
// conditional update is the single point where concurrent redemptions
// are serialized; the loser sees zero affected rows.
func (r *TokenRepository) Consume(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("accounts.security_tokens").
		Set("used_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Where("used_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeleteExpired removes tokens whose validity window ended before the cutoff.
func (r *TokenRepository) DeleteExpired(ctx context.Context, expiredBefore time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("accounts.security_tokens").
		Where(squirrel.Lt{"expires_at": expiredBefore}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

var _ port.TokenRepository = (*TokenRepository)(nil)
