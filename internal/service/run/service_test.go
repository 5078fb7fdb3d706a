package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/repository"
	"github.com/hmellak/aistudio/internal/ws"
)

type stubTenant struct {
	tenantID string
	projects map[string]domain.Project
	runs     map[string]domain.AgentRun
	logs     []domain.UsageLog
}

func (s *stubTenant) CreateProject(ctx context.Context, project *domain.Project) error {
	project.UserID = s.tenantID
	s.projects[project.ID] = *project
	return nil
}

func (s *stubTenant) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	if project, ok := s.projects[projectID]; ok {
		return &project, nil
	}
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

func (s *stubTenant) CreateAgentRun(ctx context.Context, run *domain.AgentRun) error {
	run.StartedAt = time.Now()
	s.runs[run.ID] = *run
	return nil
}

func (s *stubTenant) GetAgentRunByID(ctx context.Context, runID string) (*domain.AgentRun, error) {
	if run, ok := s.runs[runID]; ok {
		return &run, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubTenant) ListAgentRuns(ctx context.Context, filter domain.RunFilter, limit int, cursor domain.Cursor) ([]domain.AgentRun, domain.Cursor, error) {
	out := make([]domain.AgentRun, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.ProjectID != "" && run.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	return out, domain.Cursor{}, nil
}

func (s *stubTenant) ApplyRunTransition(ctx context.Context, transition domain.RunTransition) (*domain.AgentRun, error) {
	run, ok := s.runs[transition.RunID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("%w: run is %s", repository.ErrConflict, run.Status)
	}
	run.Status = transition.Status
	switch transition.Status {
	case domain.RunStatusCompleted:
		now := time.Now()
		run.Output = transition.Output
		run.CompletedAt = &now
	case domain.RunStatusFailed:
		msg := transition.ErrorMessage
		run.ErrorMessage = &msg
	}
	s.runs[transition.RunID] = run
	return &run, nil
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

func newStubStore(tenantID string) *stubStore {
	return &stubStore{tenant: &stubTenant{
		tenantID: tenantID,
		projects: make(map[string]domain.Project),
		runs:     make(map[string]domain.AgentRun),
	}}
}

func (s *stubStore) WithTenant(ctx context.Context, tenantID string, fn func(repository.Tenant) error) error {
	if tenantID == "" {
		return repository.ErrTenantBinding
	}
	s.tenant.tenantID = tenantID
	return fn(s.tenant)
}

type captureSubscriber struct {
	messages chan []byte
}

func (c *captureSubscriber) Send(payload []byte) error {
	c.messages <- payload
	return nil
}

func (c *captureSubscriber) Close() {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateStartsPendingAndRecordsUsage(t *testing.T) {
	store := newStubStore("user-1")
	store.tenant.projects["p-1"] = domain.Project{ID: "p-1", UserID: "user-1"}
	svc := New(store, nil, testLogger())

	run, err := svc.Create(context.Background(), "user-1", CreateInput{
		ProjectID: "p-1",
		AgentType: "summarizer",
		Input:     json.RawMessage(`{"doc":"x"}`),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if run.Status != domain.RunStatusPending {
		t.Fatalf("expected pending run, got %q", run.Status)
	}
	if len(store.tenant.logs) != 1 || store.tenant.logs[0].Action != "agent_run_requested" {
		t.Fatalf("expected one agent_run_requested usage log, got %+v", store.tenant.logs)
	}
}

func TestCreateRequiresProjectInScope(t *testing.T) {
	svc := New(newStubStore("user-1"), nil, testLogger())

	_, err := svc.Create(context.Background(), "user-1", CreateInput{ProjectID: "foreign", AgentType: "summarizer"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for out-of-scope project, got %v", err)
	}
}

func TestCreateRejectsInvalidAgentType(t *testing.T) {
	store := newStubStore("user-1")
	store.tenant.projects["p-1"] = domain.Project{ID: "p-1"}
	svc := New(store, nil, testLogger())

	for label, agentType := range map[string]string{
		"blank":    "  ",
		"too long": strings.Repeat("a", maxAgentTypeLen+1),
	} {
		_, err := svc.Create(context.Background(), "user-1", CreateInput{ProjectID: "p-1", AgentType: agentType})
		if !errors.Is(err, errAgentTypeRequired) {
			t.Fatalf("%s agent type: expected errAgentTypeRequired, got %v", label, err)
		}
	}
}

func TestListRejectsUnknownStatusFilter(t *testing.T) {
	svc := New(newStubStore("user-1"), nil, testLogger())
	_, _, err := svc.List(context.Background(), "user-1", domain.RunFilter{Status: "exploded"}, 0, domain.Cursor{})
	if !errors.Is(err, errStatusFilter) {
		t.Fatalf("expected errStatusFilter, got %v", err)
	}
}

func TestApplyTransitionValidatesPayloadShape(t *testing.T) {
	svc := New(newStubStore("user-1"), nil, testLogger())

	cases := []struct {
		name  string
		input TransitionInput
		want  error
	}{
		{"running with output", TransitionInput{RunID: "r", UserID: "u", Status: "running", Output: json.RawMessage(`{}`)}, errRunningWithResult},
		{"completed with error", TransitionInput{RunID: "r", UserID: "u", Status: "completed", ErrorMessage: "boom"}, errCompletedWithErr},
		{"failed without error", TransitionInput{RunID: "r", UserID: "u", Status: "failed"}, errFailedWithoutErr},
		{"unknown target", TransitionInput{RunID: "r", UserID: "u", Status: "archived"}, errBadTarget},
		{"pending target", TransitionInput{RunID: "r", UserID: "u", Status: "pending"}, errBadTarget},
	}
	for _, tc := range cases {
		if _, err := svc.ApplyTransition(context.Background(), tc.input); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestApplyTransitionTerminalIsConflict(t *testing.T) {
	store := newStubStore("user-1")
	store.tenant.runs["r-1"] = domain.AgentRun{ID: "r-1", ProjectID: "p-1", Status: domain.RunStatusCompleted}
	svc := New(store, nil, testLogger())

	_, err := svc.ApplyTransition(context.Background(), TransitionInput{
		RunID: "r-1", UserID: "user-1", Status: "failed", ErrorMessage: "late report",
	})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestApplyTransitionUnknownRunIsNotFound(t *testing.T) {
	svc := New(newStubStore("user-1"), nil, testLogger())
	_, err := svc.ApplyTransition(context.Background(), TransitionInput{
		RunID: "missing", UserID: "user-1", Status: "running",
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyTransitionBroadcastsToProjectSubscribers(t *testing.T) {
	store := newStubStore("user-1")
	store.tenant.runs["r-1"] = domain.AgentRun{ID: "r-1", ProjectID: "p-1", Status: domain.RunStatusPending}

	hub := ws.NewHub(4)
	sub := &captureSubscriber{messages: make(chan []byte, 4)}
	hub.Register("p-1", sub)

	svc := New(store, hub, testLogger())
	if _, err := svc.ApplyTransition(context.Background(), TransitionInput{
		RunID: "r-1", UserID: "user-1", Status: "running",
	}); err != nil {
		t.Fatalf("ApplyTransition returned error: %v", err)
	}

	select {
	case payload := <-sub.messages:
		var event map[string]any
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("broadcast payload not JSON: %v", err)
		}
		if event["run_id"] != "r-1" || event["status"] != "running" {
			t.Fatalf("unexpected broadcast event: %v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}
