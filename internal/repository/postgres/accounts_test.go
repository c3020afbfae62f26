package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

func TestAccountRepository_GetByIdentifier(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	registeredAt := time.Now().UTC()
	rows := pgxmock.NewRows(accountColumns).AddRow(
		"acct-1", "alice", "alice@example.com", true, nil, false,
		"hash", "argon2id", false, 0, nil,
		"active", true, registeredAt, nil, registeredAt,
	)

	mock.ExpectQuery(`SELECT .* FROM accounts\.accounts`).
		WithArgs("alice@example.com", "alice@example.com").
		WillReturnRows(rows)

	account, err := repo.GetByIdentifier(context.Background(), " Alice@Example.COM ")
	if err != nil {
		t.Fatalf("GetByIdentifier returned error: %v", err)
	}
	if account.ID != "acct-1" || account.Username != "alice" {
		t.Fatalf("unexpected account %+v", account)
	}
	if account.Status != domain.AccountStatusActive {
		t.Fatalf("expected active status, got %s", account.Status)
	}
	if account.Phone != nil {
		t.Fatalf("expected nil phone")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_CreateDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	mock.ExpectExec(`INSERT INTO accounts\.accounts`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_username_lower_idx"})

	account := domain.Account{
		ID:       "acct-1",
		Username: "alice",
		Email:    "alice@example.com",
		Status:   domain.AccountStatusPending,
		IsActive: true,
	}
	if err := repo.Create(context.Background(), account); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_RecordFailedAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	lockoutEnd := time.Now().UTC().Add(5 * time.Minute)

	// Below the threshold the counter just increments.
	mock.ExpectQuery(`UPDATE accounts\.accounts`).
		WithArgs("acct-1", 3, lockoutEnd).
		WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "lockout_end"}).AddRow(2, nil))

	record, err := repo.RecordFailedAttempt(context.Background(), "acct-1", 3, lockoutEnd)
	if err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	if record.LockedOut {
		t.Fatalf("second failure must not lock")
	}
	if record.FailedAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", record.FailedAttempts)
	}

	// The rollover resets the counter and installs the window.
	mock.ExpectQuery(`UPDATE accounts\.accounts`).
		WithArgs("acct-1", 3, lockoutEnd).
		WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "lockout_end"}).AddRow(0, &lockoutEnd))

	record, err = repo.RecordFailedAttempt(context.Background(), "acct-1", 3, lockoutEnd)
	if err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	if !record.LockedOut {
		t.Fatalf("rollover must report lockout")
	}
	if record.LockoutEnd == nil || !record.LockoutEnd.Equal(lockoutEnd) {
		t.Fatalf("expected lockout end %v, got %v", lockoutEnd, record.LockoutEnd)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_RecordFailedAttemptTruncatedTimestamp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	// Postgres keeps microseconds, so the value we wrote comes back with
	// the nanosecond tail dropped. The rollover must still be recognized.
	lockoutEnd := time.Now().UTC().Add(5 * time.Minute).Add(999 * time.Nanosecond)
	stored := lockoutEnd.Truncate(time.Microsecond)

	mock.ExpectQuery(`UPDATE accounts\.accounts`).
		WithArgs("acct-1", 3, lockoutEnd).
		WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "lockout_end"}).AddRow(0, &stored))

	record, err := repo.RecordFailedAttempt(context.Background(), "acct-1", 3, lockoutEnd)
	if err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	if !record.LockedOut {
		t.Fatalf("rollover with truncated timestamp must report lockout")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_UpdateMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	mock.ExpectExec(`UPDATE accounts\.accounts`).
		WithArgs(true, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.ConfirmEmail(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
