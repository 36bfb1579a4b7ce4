package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-service/internal/domain"
)

// TokenRepository manages refresh token persistence.
type TokenRepository interface {
	FindActiveByUser(ctx context.Context, userID int64) (*domain.Token, error)
	GetByValue(ctx context.Context, value string) (*domain.Token, error)
	// Save inserts a token with a zero ID, otherwise persists its revoked
	// flag. A stored revoked flag is never cleared.
	Save(ctx context.Context, token *domain.Token) error
	// MarkRevoked revokes the token with this id and reports whether this
	// call performed the transition. ErrNotFound when no such token exists.
	MarkRevoked(ctx context.Context, id int64) (bool, error)
	// Rotate revokes the user's active token and inserts a new active token
	// with the given value, all in one transaction. It returns the new token
	// and the revoked predecessor (nil when none existed).
	//
	// With expectedID zero whatever token is active gets revoked. Otherwise
	// only the token with that id may be revoked, and ErrStale is returned
	// when it is no longer the user's active token. ErrDuplicate signals a
	// concurrent rotation won the race.
	Rotate(ctx context.Context, userID, expectedID int64, value string) (*domain.Token, *domain.Token, error)
}

type tokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository constructs repository.
func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

const tokenColumns = `id, user_id, token, revoked, created_at, updated_at`

func scanToken(row pgx.Row) (*domain.Token, error) {
	var token domain.Token
	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.Value,
		&token.Revoked,
		&token.CreatedAt,
		&token.UpdatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	return &token, nil
}

func (r *tokenRepository) FindActiveByUser(ctx context.Context, userID int64) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE user_id=$1 AND revoked=FALSE`
	return scanToken(r.pool.QueryRow(ctx, query, userID))
}

func (r *tokenRepository) GetByValue(ctx context.Context, value string) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token=$1`
	return scanToken(r.pool.QueryRow(ctx, query, value))
}

func (r *tokenRepository) Save(ctx context.Context, token *domain.Token) error {
	if token.ID == 0 {
		const insert = `
            INSERT INTO refresh_tokens (user_id, token, revoked)
            VALUES ($1, $2, $3)
            RETURNING id, created_at, updated_at`
		err := r.pool.QueryRow(ctx, insert, token.UserID, token.Value, token.Revoked).
			Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
		return mapError(err)
	}

	const update = `
        UPDATE refresh_tokens SET revoked=(revoked OR $2), updated_at=NOW()
        WHERE id=$1
        RETURNING revoked, updated_at`
	err := r.pool.QueryRow(ctx, update, token.ID, token.Revoked).Scan(&token.Revoked, &token.UpdatedAt)
	return mapError(err)
}

func (r *tokenRepository) MarkRevoked(ctx context.Context, id int64) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE refresh_tokens SET revoked=TRUE, updated_at=NOW()
        WHERE id=$1 AND revoked=FALSE`, id)
	if err != nil {
		return false, mapError(err)
	}
	if cmd.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM refresh_tokens WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *tokenRepository) Rotate(ctx context.Context, userID, expectedID int64, value string) (*domain.Token, *domain.Token, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// The row lock taken by UPDATE serialises rotations that see an existing
	// active token; the partial unique index catches the ones that do not.
	// A waiter re-checks revoked=FALSE after the lock holder commits, so two
	// rotations away from the same token cannot both succeed.
	var previous *domain.Token
	if expectedID == 0 {
		revokeQuery := `
            UPDATE refresh_tokens SET revoked=TRUE, updated_at=NOW()
            WHERE user_id=$1 AND revoked=FALSE
            RETURNING ` + tokenColumns
		previous, err = scanToken(tx.QueryRow(ctx, revokeQuery, userID))
		if err != nil && err != ErrNotFound {
			return nil, nil, err
		}
	} else {
		revokeQuery := `
            UPDATE refresh_tokens SET revoked=TRUE, updated_at=NOW()
            WHERE id=$2 AND user_id=$1 AND revoked=FALSE
            RETURNING ` + tokenColumns
		previous, err = scanToken(tx.QueryRow(ctx, revokeQuery, userID, expectedID))
		if err == ErrNotFound {
			return nil, nil, ErrStale
		}
		if err != nil {
			return nil, nil, err
		}
	}

	insertQuery := `
        INSERT INTO refresh_tokens (user_id, token, revoked)
        VALUES ($1, $2, FALSE)
        RETURNING ` + tokenColumns
	issued, err := scanToken(tx.QueryRow(ctx, insertQuery, userID, value))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, mapError(err)
	}
	return issued, previous, nil
}
