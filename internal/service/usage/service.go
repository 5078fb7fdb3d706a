package usage

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

const maxActionLen = 100

// Service records and lists append-only usage events.
type Service struct {
	store  repository.TenantRunner
	logger *slog.Logger
}

// New constructs a usage service.
func New(store repository.TenantRunner, logger *slog.Logger) Service {
	return Service{store: store, logger: logger}
}

var errActionRequired = fmt.Errorf("%w: action must be 1-%d characters", repository.ErrInvalidArgument, maxActionLen)

// Append records one event for the tenant.
func (s Service) Append(ctx context.Context, tenantID, action string, details json.RawMessage) (*domain.UsageLog, error) {
	action = strings.TrimSpace(action)
	if action == "" || len(action) > maxActionLen {
		return nil, errActionRequired
	}
	entry := &domain.UsageLog{
		ID:      uuid.NewString(),
		Action:  action,
		Details: details,
	}
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		return t.AppendUsageLog(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("usage logged", "action", action, "user_id", entry.UserID)
	return entry, nil
}

// List returns one page of the tenant's events, most recent first.
func (s Service) List(ctx context.Context, tenantID string, limit int, cursor domain.Cursor) ([]domain.UsageLog, domain.Cursor, error) {
	var (
		entries []domain.UsageLog
		next    domain.Cursor
	)
	err := s.store.WithTenant(ctx, tenantID, func(t repository.Tenant) error {
		var err error
		entries, next, err = t.ListUsageLogs(ctx, limit, cursor)
		return err
	})
	return entries, next, err
}
