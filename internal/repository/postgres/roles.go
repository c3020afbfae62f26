package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/repository"
)

// RoleRepository implements port.RoleRepository using PostgreSQL.
type RoleRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRoleRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewRoleRepository(exec pgExecutor) *RoleRepository {
	repo := &RoleRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *RoleRepository) WithTx(tx pgx.Tx) *RoleRepository {
	if tx == nil {
		return r
	}
	return &RoleRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// RolesForAccount returns the role names assigned to an account, sorted by name.
func (r *RoleRepository) RolesForAccount(ctx context.Context, accountID string) ([]string, error) {
	stmt, args, err := r.builder.Select("r.name").
		From("accounts.roles r").
		Join("accounts.account_roles ar ON ar.role_id = r.id").
		Where(squirrel.Eq{"ar.account_id": accountID}).
		OrderBy("r.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account roles sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query account roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account roles: %w", err)
	}

	return names, nil
}

// AssignByName grants a role to an account by role name. Assigning an
// already held role is a no-op. Returns repository.ErrNotFound when no
// role with the given name exists.
func (r *RoleRepository) AssignByName(ctx context.Context, accountID, roleName string) error {
	stmt := `
		INSERT INTO accounts.account_roles (account_id, role_id)
		SELECT $1, r.id
		  FROM accounts.roles r
		 WHERE r.name = $2
		ON CONFLICT (account_id, role_id) DO NOTHING`

	ct, err := r.exec.Exec(ctx, stmt, accountID, roleName)
	if err != nil {
		return fmt.Errorf("assign role %q: %w", roleName, err)
	}
	if ct.RowsAffected() == 0 {
		exists, err := r.roleExists(ctx, roleName)
		if err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
	}

	return nil
}

func (r *RoleRepository) roleExists(ctx context.Context, roleName string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		From("accounts.roles").
		Where(squirrel.Eq{"name": roleName}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select role sql: %w", err)
	}

	var one int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&one); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check role existence: %w", err)
	}

	return true, nil
}

var _ port.RoleRepository = (*RoleRepository)(nil)
