package model

import "time"

// User is a principal identified by a stable external id. Users are created
// on first sight and never deleted; their peers cascade when they are.
type User struct {
	ID           string     `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	Status       string     `json:"status" db:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
}
