package repository

import (
	"context"

	"github.com/hmellak/aistudio/internal/domain"
)

// UserRepository persists users. User rows are not tenant scoped; they are
// the tenants.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ProjectRepository persists projects inside a tenant scope.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context, limit int, cursor domain.Cursor) ([]domain.Project, domain.Cursor, error)
	UpdateProject(ctx context.Context, projectID string, update domain.ProjectUpdate) (*domain.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// AgentRunRepository persists agent execution records.
type AgentRunRepository interface {
	CreateAgentRun(ctx context.Context, run *domain.AgentRun) error
	GetAgentRunByID(ctx context.Context, runID string) (*domain.AgentRun, error)
	ListAgentRuns(ctx context.Context, filter domain.RunFilter, limit int, cursor domain.Cursor) ([]domain.AgentRun, domain.Cursor, error)
	ApplyRunTransition(ctx context.Context, transition domain.RunTransition) (*domain.AgentRun, error)
}

// UsageLogRepository appends and lists usage events.
type UsageLogRepository interface {
	AppendUsageLog(ctx context.Context, entry *domain.UsageLog) error
	ListUsageLogs(ctx context.Context, limit int, cursor domain.Cursor) ([]domain.UsageLog, domain.Cursor, error)
}

// Tenant is the storage view visible inside one tenant-bound unit of work.
// Every operation it exposes runs against rows the bound tenant owns,
// directly or through the project ownership chain.
type Tenant interface {
	ProjectRepository
	AgentRunRepository
	UsageLogRepository
}

// TenantRunner executes fn inside one transaction whose row visibility is
// bound to the given tenant. The binding lives and dies with the
// transaction; it is never shared between requests.
type TenantRunner interface {
	WithTenant(ctx context.Context, tenantID string, fn func(Tenant) error) error
}
