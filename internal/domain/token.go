package domain

import "time"

// TokenState is derived from the revoked flag. ACTIVE moves to REVOKED and
// never back.
type TokenState string

const (
	TokenStateActive  TokenState = "ACTIVE"
	TokenStateRevoked TokenState = "REVOKED"
)

// Token is a refresh token record. At most one non-revoked token exists per
// user; revoked rows are kept for audit.
type Token struct {
	ID        int64
	UserID    int64
	Value     string
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State returns the lifecycle state of the token.
func (t *Token) State() TokenState {
	if t.Revoked {
		return TokenStateRevoked
	}
	return TokenStateActive
}
