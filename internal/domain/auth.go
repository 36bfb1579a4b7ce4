package domain

import "time"

// TokenPair is what a successful login or refresh hands back to the caller.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
