package usage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"log/slog"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/repository"
)

type stubTenant struct {
	tenantID string
	logs     []domain.UsageLog
}

func (s *stubTenant) CreateProject(ctx context.Context, project *domain.Project) error { return nil }

func (s *stubTenant) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubTenant) ListProjects(ctx context.Context, limit int, cursor domain.Cursor) ([]domain.Project, domain.Cursor, error) {
	return nil, domain.Cursor{}, nil
}

func (s *stubTenant) UpdateProject(ctx context.Context, projectID string, update domain.ProjectUpdate) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubTenant) DeleteProject(ctx context.Context, projectID string) error {
	return repository.ErrNotFound
}

func (s *stubTenant) CreateAgentRun(ctx context.Context, run *domain.AgentRun) error { return nil }

func (s *stubTenant) GetAgentRunByID(ctx context.Context, runID string) (*domain.AgentRun, error) {
	return nil, repository.ErrNotFound
}

func (s *stubTenant) ListAgentRuns(ctx context.Context, filter domain.RunFilter, limit int, cursor domain.Cursor) ([]domain.AgentRun, domain.Cursor, error) {
	return nil, domain.Cursor{}, nil
}

func (s *stubTenant) ApplyRunTransition(ctx context.Context, transition domain.RunTransition) (*domain.AgentRun, error) {
	return nil, repository.ErrNotFound
}

func (s *stubTenant) AppendUsageLog(ctx context.Context, entry *domain.UsageLog) error {
	entry.UserID = s.tenantID
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *stubTenant) ListUsageLogs(ctx context.Context, limit int, cursor domain.Cursor) ([]domain.UsageLog, domain.Cursor, error) {
	return append([]domain.UsageLog(nil), s.logs...), domain.Cursor{}, nil
}

type stubStore struct {
	tenant *stubTenant
}

func (s *stubStore) WithTenant(ctx context.Context, tenantID string, fn func(repository.Tenant) error) error {
	if tenantID == "" {
		return repository.ErrTenantBinding
	}
	s.tenant.tenantID = tenantID
	return fn(s.tenant)
}

func testService() (Service, *stubTenant) {
	tenant := &stubTenant{}
	svc := New(&stubStore{tenant: tenant}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, tenant
}

func TestAppendStampsTenant(t *testing.T) {
	svc, tenant := testService()

	entry, err := svc.Append(context.Background(), "user-1", "export_requested", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if entry.UserID != "user-1" {
		t.Fatalf("expected tenant user-1, got %q", entry.UserID)
	}
	if len(tenant.logs) != 1 || tenant.logs[0].Action != "export_requested" {
		t.Fatalf("unexpected stored logs: %+v", tenant.logs)
	}
}

func TestAppendRejectsInvalidAction(t *testing.T) {
	svc, _ := testService()

	for label, action := range map[string]string{
		"blank":    "   ",
		"too long": strings.Repeat("a", maxActionLen+1),
	} {
		if _, err := svc.Append(context.Background(), "user-1", action, nil); !errors.Is(err, errActionRequired) {
			t.Fatalf("%s action: expected errActionRequired, got %v", label, err)
		}
	}
}

func TestAppendRequiresTenantBinding(t *testing.T) {
	svc, _ := testService()
	if _, err := svc.Append(context.Background(), "", "export", nil); !errors.Is(err, repository.ErrTenantBinding) {
		t.Fatalf("expected ErrTenantBinding, got %v", err)
	}
}

func TestListReturnsStoredEntries(t *testing.T) {
	svc, tenant := testService()
	tenant.logs = []domain.UsageLog{{ID: "l-1", Action: "project_created"}}

	entries, _, err := svc.List(context.Background(), "user-1", 0, domain.Cursor{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "project_created" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
