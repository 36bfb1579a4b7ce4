package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered EventType = "user_registered"
	EventUserUpdated    EventType = "user_updated"
	EventUserDeleted    EventType = "user_deleted"
	EventTokenIssued    EventType = "token_issued"
	EventTokenRevoked   EventType = "token_revoked"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    int64       `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Email string `json:"email"`
}

// UserUpdatedPayload lists the profile fields touched by an update.
type UserUpdatedPayload struct {
	Fields []string `json:"fields"`
}

// UserDeletedPayload payload.
type UserDeletedPayload struct {
	Email string `json:"email"`
}

// TokenIssuedPayload payload. ReplacedTokenID is set when issuing revoked a
// previously active token.
type TokenIssuedPayload struct {
	TokenID         int64  `json:"token_id"`
	ReplacedTokenID *int64 `json:"replaced_token_id,omitempty"`
}

// TokenRevokedPayload payload.
type TokenRevokedPayload struct {
	TokenID int64  `json:"token_id"`
	Reason  string `json:"reason"`
}
