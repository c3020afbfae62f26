package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

var accountColumns = []string{
	"id",
	"username",
	"email",
	"email_confirmed",
	"phone",
	"phone_confirmed",
	"password_hash",
	"password_algo",
	"two_factor_enabled",
	"failed_attempts",
	"lockout_end",
	"status",
	"is_active",
	"registered_at",
	"last_login",
	"last_password_change",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	repo := &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	var phoneValue any
	if account.Phone != nil && *account.Phone != "" {
		phoneValue = *account.Phone
	}

	stmt, args, err := r.builder.Insert("accounts.accounts").
		Columns(accountColumns...).
		Values(
			account.ID,
			account.Username,
			account.Email,
			account.EmailConfirmed,
			phoneValue,
			account.PhoneConfirmed,
			account.PasswordHash,
			account.PasswordAlgo,
			account.TwoFactorEnabled,
			account.FailedAttempts,
			account.LockoutEnd,
			account.Status,
			account.IsActive,
			account.RegisteredAt,
			account.LastLogin,
			account.LastPasswordChange,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From("accounts.accounts").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	return r.scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByIdentifier retrieves an account by username or email.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	normalized := strings.ToLower(strings.TrimSpace(identifier))

	stmt, args, err := r.builder.Select(accountColumns...).
		From("accounts.accounts").
		Where(squirrel.Or{
			squirrel.Eq{"lower(username)": normalized},
			squirrel.Eq{"lower(email)": normalized},
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by identifier sql: %w", err)
	}

	return r.scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByExternalLogin resolves an account through a linked federated identity.
func (r *AccountRepository) GetByExternalLogin(ctx context.Context, provider, providerKey string) (*domain.Account, error) {
	columns := make([]string, 0, len(accountColumns))
	for _, col := range accountColumns {
		columns = append(columns, "a."+col)
	}

	stmt, args, err := r.builder.Select(columns...).
		From("accounts.accounts AS a").
		Join("accounts.external_logins AS el ON el.account_id = a.id").
		Where(squirrel.Eq{"el.provider": provider, "el.provider_key": providerKey}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by external login sql: %w", err)
	}

	return r.scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// UpdateStatus updates the status field for an account.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	stmt, args, err := r.builder.Update("accounts.accounts").
		Set("status", status).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account status sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "update account status")
}

// UpdatePassword updates the password hash, algorithm, and last change timestamp.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, passwordAlgo string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("accounts.accounts").
		Set("password_hash", passwordHash).
		Set("password_algo", passwordAlgo).
		Set("last_password_change", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "update password")
}

// ConfirmEmail marks the account email as confirmed.
func (r *AccountRepository) ConfirmEmail(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("accounts.accounts").
		Set("email_confirmed", true).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build confirm email sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "confirm email")
}

// SetPhone installs or clears the phone number and its confirmation flag.
func (r *AccountRepository) SetPhone(ctx context.Context, id string, phone *string, confirmed bool) error {
	var phoneValue any
	if phone != nil && *phone != "" {
		phoneValue = *phone
	}

	stmt, args, err := r.builder.Update("accounts.accounts").
		Set("phone", phoneValue).
		Set("phone_confirmed", confirmed).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set phone sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "set phone")
}

// SetTwoFactorEnabled flips the two-factor flag.
func (r *AccountRepository) SetTwoFactorEnabled(ctx context.Context, id string, enabled bool) error {
	stmt, args, err := r.builder.Update("accounts.accounts").
		Set("two_factor_enabled", enabled).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set two-factor sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "set two-factor")
}

// UpdateLastLogin records the most recent successful sign-in.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("accounts.accounts").
		Set("last_login", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last login sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "update last login")
}

// RecordFailedAttempt increments the failure counter in a single statement.
// Reaching maxAttempts resets the counter to zero and installs the lockout
// window, so concurrent failures settle without a read-modify-write race.
func (r *AccountRepository) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockoutEnd time.Time) (port.FailureRecord, error) {
	stmt := `
		UPDATE accounts.accounts
		   SET failed_attempts = CASE WHEN failed_attempts + 1 >= $2 THEN 0 ELSE failed_attempts + 1 END,
		       lockout_end     = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE lockout_end END
		 WHERE id = $1
		 RETURNING failed_attempts, lockout_end
	`

	var (
		attempts int
		end      *time.Time
	)
	if err := r.exec.QueryRow(ctx, stmt, id, maxAttempts, lockoutEnd).Scan(&attempts, &end); err != nil {
		if err == pgx.ErrNoRows {
			return port.FailureRecord{}, repository.ErrNotFound
		}
		return port.FailureRecord{}, fmt.Errorf("record failed attempt: %w", err)
	}

	// Postgres stores timestamps at microsecond precision, so the returned
	// lockout_end may not compare equal to the value we sent. A live window
	// in the future is the signal that this failure tripped the lock.
	locked := attempts == 0 && end != nil && end.After(time.Now().UTC())
	return port.FailureRecord{
		FailedAttempts: attempts,
		LockoutEnd:     end,
		LockedOut:      locked,
	}, nil
}

// ClearLockout resets the failure counter and removes any lockout window.
func (r *AccountRepository) ClearLockout(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("accounts.accounts").
		Set("failed_attempts", 0).
		Set("lockout_end", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear lockout sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "clear lockout")
}

// LinkExternalLogin attaches a federated identity to the account.
func (r *AccountRepository) LinkExternalLogin(ctx context.Context, login domain.ExternalLogin) error {
	stmt, args, err := r.builder.Insert("accounts.external_logins").
		Columns("provider", "provider_key", "account_id", "display_name", "linked_at").
		Values(login.Provider, login.ProviderKey, login.AccountID, login.DisplayName, login.LinkedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert external login sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert external login: %w", err)
	}

	return nil
}

// ListExternalLogins returns the federated identities linked to the account.
func (r *AccountRepository) ListExternalLogins(ctx context.Context, accountID string) ([]domain.ExternalLogin, error) {
	stmt, args, err := r.builder.Select("provider", "provider_key", "account_id", "display_name", "linked_at").
		From("accounts.external_logins").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("linked_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select external logins sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query external logins: %w", err)
	}
	defer rows.Close()

	logins := make([]domain.ExternalLogin, 0)
	for rows.Next() {
		var (
			login       domain.ExternalLogin
			displayName sql.NullString
		)
		if err := rows.Scan(&login.Provider, &login.ProviderKey, &login.AccountID, &displayName, &login.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan external login: %w", err)
		}
		if displayName.Valid {
			val := displayName.String
			login.DisplayName = &val
		}
		logins = append(logins, login)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate external logins: %w", err)
	}

	return logins, nil
}

// RemoveExternalLogin detaches a federated identity from the account.
func (r *AccountRepository) RemoveExternalLogin(ctx context.Context, accountID, provider, providerKey string) error {
	stmt, args, err := r.builder.Delete("accounts.external_logins").
		Where(squirrel.Eq{
			"account_id":   accountID,
			"provider":     provider,
			"provider_key": providerKey,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete external login sql: %w", err)
	}

	return r.execSingleRow(ctx, stmt, args, "delete external login")
}

func (r *AccountRepository) execSingleRow(ctx context.Context, stmt string, args []any, op string) error {
	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account    domain.Account
		phone      sql.NullString
		lockoutEnd *time.Time
		lastLogin  *time.Time
	)

	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.EmailConfirmed,
		&phone,
		&account.PhoneConfirmed,
		&account.PasswordHash,
		&account.PasswordAlgo,
		&account.TwoFactorEnabled,
		&account.FailedAttempts,
		&lockoutEnd,
		&account.Status,
		&account.IsActive,
		&account.RegisteredAt,
		&lastLogin,
		&account.LastPasswordChange,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	if phone.Valid {
		val := phone.String
		account.Phone = &val
	}
	account.LockoutEnd = lockoutEnd
	account.LastLogin = lastLogin

	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
