package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-service/internal/domain"
)

// UserRepository defines persistence access for user accounts.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// CreateIfAbsent inserts the user together with its role rows in one
	// transaction, failing with ErrDuplicate when the email is taken.
	CreateIfAbsent(ctx context.Context, user *domain.User, roles []domain.RoleType) error
	// Save writes the profile fields of an existing user, addressed by ID.
	// Email is immutable and left untouched. ErrNotFound when the user no
	// longer exists, so a concurrent delete is never undone.
	Save(ctx context.Context, user *domain.User) error
	// Delete revokes the user's tokens, drops its role rows and removes the
	// user in one transaction. ErrNotFound when the user is already gone.
	Delete(ctx context.Context, user *domain.User) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, email, name, national_id, phone_number, address, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.NationalID,
		&user.PhoneNumber,
		&user.Address,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *userRepository) CreateIfAbsent(ctx context.Context, user *domain.User, roles []domain.RoleType) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insertUser = `
        INSERT INTO users (email, name, national_id, phone_number, address, password_hash)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (email) DO NOTHING
        RETURNING id, created_at, updated_at`

	if err := tx.QueryRow(ctx, insertUser,
		user.Email,
		user.Name,
		user.NationalID,
		user.PhoneNumber,
		user.Address,
		user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			// DO NOTHING yields no row when the email already exists.
			return ErrDuplicate
		}
		return mapError(err)
	}

	for _, role := range roles {
		if err := insertRole(ctx, tx, user.ID, role); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *userRepository) Save(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET
            name=$2,
            national_id=$3,
            phone_number=$4,
            address=$5,
            password_hash=$6,
            updated_at=NOW()
        WHERE id=$1
        RETURNING email, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.NationalID,
		user.PhoneNumber,
		user.Address,
		user.PasswordHash,
	).Scan(&user.Email, &user.CreatedAt, &user.UpdatedAt)
	return mapError(err)
}

func (r *userRepository) Delete(ctx context.Context, user *domain.User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
        UPDATE refresh_tokens SET revoked=TRUE, updated_at=NOW()
        WHERE user_id=$1 AND revoked=FALSE`, user.ID); err != nil {
		return mapError(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id=$1`, user.ID); err != nil {
		return mapError(err)
	}
	cmd, err := tx.Exec(ctx, `DELETE FROM users WHERE id=$1`, user.ID)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}
