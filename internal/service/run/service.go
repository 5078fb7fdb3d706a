package run

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/repository"
	"github.com/hmellak/aistudio/internal/ws"
)

const maxAgentTypeLen = 50

// CreateInput encapsulates a run request from a tenant.
type CreateInput struct {
	ProjectID string
	AgentType string
	Input     json.RawMessage
}

// TransitionInput is a status report from the execution runner. UserID
// names the tenant scope the runner is acting in; a wrong value cannot
// expose foreign rows, it just fails to find the run.
type TransitionInput struct {
	RunID        string
	UserID       string
	Status       string
	Output       json.RawMessage
	ErrorMessage string
}

// Service manages agent run records. Execution itself happens outside this
// process; the service only persists the states the runner reports.
type Service struct {
	store  repository.TenantRunner
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a run service.
func New(store repository.TenantRunner, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{store: store, hub: hub, logger: logger}
}

var (
	errProjectRequired   = fmt.Errorf("%w: project id required", repository.ErrInvalidArgument)
	errAgentTypeRequired = fmt.Errorf("%w: agent type must be 1-%d characters", repository.ErrInvalidArgument, maxAgentTypeLen)
	errRunRequired       = fmt.Errorf("%w: run id required", repository.ErrInvalidArgument)
	errBadTarget         = fmt.Errorf("%w: transition target must be running, completed, or failed", repository.ErrInvalidArgument)
	errCompletedWithErr  = fmt.Errorf("%w: a completed run cannot carry an error message", repository.ErrInvalidArgument)
	errFailedWithoutErr  = fmt.Errorf("%w: a failed run requires an error message", repository.ErrInvalidArgument)
	errRunningWithResult = fmt.Errorf("%w: a running transition carries no outcome", repository.ErrInvalidArgument)
	errStatusFilter      = fmt.Errorf("%w: unknown status filter", repository.ErrInvalidArgument)
)

// Create registers a pending run under a project the tenant owns. The
// project lookup runs in the same bound transaction as the insert, so a
// foreign or missing project yields NotFound before anything is written.
func (s Service) Create(ctx context.Context, tenantID string, input CreateInput) (*domain.AgentRun, error) {
	projectID := strings.TrimSpace(input.ProjectID)
	if projectID == "" {
		return nil, errProjectRequired
	}
	agentType := strings.TrimSpace(input.AgentType)
	if agentType == "" || len(agentType) > maxAgentTypeLen {
		return nil, errAgentTypeRequired
	}
	run := &domain.AgentRun{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		AgentType: agentType,
		Input:     input.Input,
		Status:    domain.RunStatusPending,
	}
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		if _, err := t.GetProjectByID(ctx, projectID); err != nil {
			return err
		}
		if err := t.CreateAgentRun(ctx, run); err != nil {
			return err
		}
		details, err := json.Marshal(map[string]string{"run_id": run.ID, "agent_type": agentType})
		if err != nil {
			return err
		}
		return t.AppendUsageLog(ctx, &domain.UsageLog{
			ID:      uuid.NewString(),
			Action:  "agent_run_requested",
			Details: details,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent run created", "run_id", run.ID, "project_id", projectID, "agent_type", agentType)
	s.broadcast(run)
	return run, nil
}

// List returns one page of runs visible to the tenant, optionally
// filtered by project and status.
func (s Service) List(ctx context.Context, tenantID string, filter domain.RunFilter, limit int, cursor domain.Cursor) ([]domain.AgentRun, domain.Cursor, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Cursor{}, errStatusFilter
	}
	var (
		runs []domain.AgentRun
		next domain.Cursor
	)
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		var err error
		runs, next, err = t.ListAgentRuns(ctx, filter, limit, cursor)
		return err
	})
	return runs, next, err
}

// Get returns one run by identifier.
func (s Service) Get(ctx context.Context, tenantID, runID string) (*domain.AgentRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errRunRequired
	}
	var run *domain.AgentRun
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		var err error
		run, err = t.GetAgentRunByID(ctx, runID)
		return err
	})
	return run, err
}

// ApplyTransition persists a runner-reported status change. Terminal
// states are reachable exactly once; a second terminal write surfaces
// ErrConflict from storage.
func (s Service) ApplyTransition(ctx context.Context, input TransitionInput) (*domain.AgentRun, error) {
	runID := strings.TrimSpace(input.RunID)
	if runID == "" {
		return nil, errRunRequired
	}
	status := domain.RunStatus(strings.TrimSpace(input.Status))
	switch status {
	case domain.RunStatusRunning:
		if len(input.Output) > 0 || input.ErrorMessage != "" {
			return nil, errRunningWithResult
		}
	case domain.RunStatusCompleted:
		if input.ErrorMessage != "" {
			return nil, errCompletedWithErr
		}
	case domain.RunStatusFailed:
		if strings.TrimSpace(input.ErrorMessage) == "" {
			return nil, errFailedWithoutErr
		}
	default:
		return nil, errBadTarget
	}

	var run *domain.AgentRun
	err := s.store.WithTenant(ctx, input.UserID, func(t repository.Tenant) error {
		var err error
		run, err = t.ApplyRunTransition(ctx, domain.RunTransition{
			RunID:        runID,
			Status:       status,
			Output:       input.Output,
			ErrorMessage: input.ErrorMessage,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent run transitioned", "run_id", run.ID, "status", run.Status)
	s.broadcast(run)
	return run, nil
}

// broadcast publishes a status event to websocket subscribers of the
// run's project.
func (s Service) broadcast(run *domain.AgentRun) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"run_id":     run.ID,
		"project_id": run.ProjectID,
		"agent_type": run.AgentType,
		"status":     run.Status,
		"at":         time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Warn("failed to encode run event", "run_id", run.ID, "error", err)
		return
	}
	s.hub.Broadcast(run.ProjectID, payload)
}
