package domain

import "time"

// ProjectStatusActive is the status assigned to new projects.
const ProjectStatusActive = "active"

// Project is a unit of work owned by exactly one user. UserID is set from
// the bound tenant on creation and never changes afterwards.
type Project struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectUpdate carries a partial mutation; nil fields keep stored values.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *string
}
