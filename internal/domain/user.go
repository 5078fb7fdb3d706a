package domain

import "time"

// User is the tenant principal; every project and usage log hangs off one.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
