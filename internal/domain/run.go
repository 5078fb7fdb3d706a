package domain

import "time"

// RunStatus enumerates agent run lifecycle states.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status allows no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Valid reports whether the value is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// AgentRun is one execution record under a project. Input and Output hold
// raw JSON the core never interprets. CompletedAt and ErrorMessage are
// mutually exclusive: a run reaches exactly one terminal outcome.
type AgentRun struct {
	ID           string
	ProjectID    string
	AgentType    string
	Input        []byte
	Output       []byte
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}

// RunFilter narrows agent run listings. Empty fields match everything.
type RunFilter struct {
	ProjectID string
	Status    RunStatus
}

// RunTransition is a status change handed over by the execution runner.
type RunTransition struct {
	RunID        string
	Status       RunStatus
	Output       []byte
	ErrorMessage string
}
