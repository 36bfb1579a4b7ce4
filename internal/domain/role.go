package domain

import "time"

// RoleType is the code of an authorization role.
type RoleType string

const (
	RoleUser  RoleType = "USER"
	RoleAdmin RoleType = "ADMIN"
)

// UserRole links a user to a role code. Rows live and die with their user.
type UserRole struct {
	ID        int64
	UserID    int64
	Role      RoleType
	CreatedAt time.Time
}
