package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-service/internal/domain"
)

// RoleRepository manages the user to role association.
type RoleRepository interface {
	ListByUser(ctx context.Context, userID int64) ([]domain.RoleType, error)
	// Assign is a no-op when the user already holds the role.
	Assign(ctx context.Context, userID int64, role domain.RoleType) error
}

type roleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository constructs repository.
func NewRoleRepository(pool *pgxpool.Pool) RoleRepository {
	return &roleRepository{pool: pool}
}

func (r *roleRepository) ListByUser(ctx context.Context, userID int64) ([]domain.RoleType, error) {
	const query = `
        SELECT role_code FROM user_roles
        WHERE user_id=$1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.RoleType
	for rows.Next() {
		var role domain.RoleType
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

func (r *roleRepository) Assign(ctx context.Context, userID int64, role domain.RoleType) error {
	return insertRole(ctx, r.pool, userID, role)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertRole relies on the role_types foreign key: an unknown code surfaces
// as ErrNotFound.
func insertRole(ctx context.Context, db execer, userID int64, role domain.RoleType) error {
	const query = `
        INSERT INTO user_roles (user_id, role_code)
        VALUES ($1, $2)
        ON CONFLICT (user_id, role_code) DO NOTHING`
	_, err := db.Exec(ctx, query, userID, role)
	return mapError(err)
}
