package project

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/repository"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
)

// CreateInput encapsulates project creation attributes. The owner is never
// part of the input; it is always the bound tenant.
type CreateInput struct {
	Name        string
	Description string
	Status      string
}

// UpdateInput holds a partial mutation; nil fields are left untouched.
type UpdateInput struct {
	Name        *string
	Description *string
	Status      *string
}

// Service orchestrates tenant-scoped project management.
type Service struct {
	store  repository.TenantRunner
	logger *slog.Logger
}

// New returns a project service.
func New(store repository.TenantRunner, logger *slog.Logger) Service {
	return Service{store: store, logger: logger}
}

var (
	errNameRequired   = fmt.Errorf("%w: project name must be 1-%d characters", repository.ErrInvalidArgument, maxNameLen)
	errDescriptionLen = fmt.Errorf("%w: description exceeds %d characters", repository.ErrInvalidArgument, maxDescriptionLen)
	errStatusRequired = fmt.Errorf("%w: status must not be blank", repository.ErrInvalidArgument)
	errMissingID      = fmt.Errorf("%w: project id required", repository.ErrInvalidArgument)
)

// Create registers a new project under the tenant and records the event in
// the same unit of work.
func (s Service) Create(ctx context.Context, tenantID string, input CreateInput) (*domain.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > maxNameLen {
		return nil, errNameRequired
	}
	if len(input.Description) > maxDescriptionLen {
		return nil, errDescriptionLen
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = domain.ProjectStatusActive
	}
	project := &domain.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
	}
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		if err := t.CreateProject(ctx, project); err != nil {
			return err
		}
		return appendEvent(ctx, t, "project_created", map[string]string{"project_id": project.ID})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "user_id", project.UserID)
	return project, nil
}

// List returns one page of the tenant's projects, newest first, with the
// cursor for the next page.
func (s Service) List(ctx context.Context, tenantID string, limit int, cursor domain.Cursor) ([]domain.Project, domain.Cursor, error) {
	var (
		projects []domain.Project
		next     domain.Cursor
	)
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		var err error
		projects, next, err = t.ListProjects(ctx, limit, cursor)
		return err
	})
	return projects, next, err
}

// Get returns one project by identifier.
func (s Service) Get(ctx context.Context, tenantID, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingID
	}
	var project *domain.Project
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		var err error
		project, err = t.GetProjectByID(ctx, projectID)
		return err
	})
	return project, err
}

// Update applies a partial mutation and returns the stored result.
func (s Service) Update(ctx context.Context, tenantID, projectID string, input UpdateInput) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingID
	}
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" || len(trimmed) > maxNameLen {
			return nil, errNameRequired
		}
		input.Name = &trimmed
	}
	if input.Description != nil && len(*input.Description) > maxDescriptionLen {
		return nil, errDescriptionLen
	}
	if input.Status != nil && strings.TrimSpace(*input.Status) == "" {
		return nil, errStatusRequired
	}
	var project *domain.Project
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		var err error
		project, err = t.UpdateProject(ctx, projectID, domain.ProjectUpdate{
			Name:        input.Name,
			Description: input.Description,
			Status:      input.Status,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project updated", "project_id", projectID)
	return project, nil
}

// Delete removes a project and, through the cascade, its agent runs.
func (s Service) Delete(ctx context.Context, tenantID, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errMissingID
	}
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		if err := t.DeleteProject(ctx, projectID); err != nil {
			return err
		}
		return appendEvent(ctx, t, "project_deleted", map[string]string{"project_id": projectID})
	})
	if err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID)
	return nil
}

// appendEvent records a usage log entry inside the caller's unit of work.
func appendEvent(ctx context.Context, t repository.Tenant, action string, details map[string]string) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return t.AppendUsageLog(ctx, &domain.UsageLog{
		ID:      uuid.NewString(),
		Action:  action,
		Details: payload,
	})
}
