package domain

import "time"

// UsageLog is an append-only event recorded against a user. Rows are never
// updated after insertion and only disappear when the user is deleted.
type UsageLog struct {
	ID        string
	UserID    string
	Action    string
	Details   []byte
	CreatedAt time.Time
}
