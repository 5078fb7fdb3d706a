package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hmellak/aistudio/internal/repository"
)

// tenantSettingKey is the session setting the row level security policies
// key row visibility on.
const tenantSettingKey = "app.current_user_id"

// WithTenant runs fn inside a transaction whose row visibility is
// restricted to the given tenant. set_config with is_local=true scopes the
// setting to the transaction, so the binding disappears on commit or
// rollback and a pooled connection can never carry it into another
// request. If binding fails no repository operation runs.
func (s *Store) WithTenant(ctx context.Context, tenantID string, fn func(repository.Tenant) error) error {
	tenantID = strings.TrimSpace(tenantID)
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("%w: malformed tenant id", repository.ErrTenantBinding)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, tenantSettingKey, tenantID); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrTenantBinding, err)
	}
	if err := fn(&tenantScope{tx: tx, tenantID: tenantID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// tenantScope implements repository.Tenant on the bound transaction. The
// policies do the filtering; queries here never re-state the tenant
// predicate except where the column value itself is needed on insert.
type tenantScope struct {
	tx       pgx.Tx
	tenantID string
}

var _ repository.Tenant = (*tenantScope)(nil)
