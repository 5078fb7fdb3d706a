package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/repository"
)

const runColumns = `id, project_id, agent_type, input_data, output_data, status, started_at, completed_at, error_message`

// CreateAgentRun inserts a run under a project the bound tenant owns. A
// foreign project either fails the FK check or the row policy; both
// surface as ErrNotFound.
func (t *tenantScope) CreateAgentRun(ctx context.Context, run *domain.AgentRun) error {
	const query = `INSERT INTO agent_runs (id, project_id, agent_type, input_data, status, started_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING started_at`
	err := t.tx.QueryRow(ctx, query,
		run.ID,
		run.ProjectID,
		run.AgentType,
		bytesToNil(run.Input),
		run.Status,
	).Scan(&run.StartedAt)
	return mapPgError(err)
}

// GetAgentRunByID fetches a run reachable through the tenant's projects.
func (t *tenantScope) GetAgentRunByID(ctx context.Context, runID string) (*domain.AgentRun, error) {
	const query = `SELECT ` + runColumns + ` FROM agent_runs WHERE id = $1`
	return t.scanRun(ctx, query, runID)
}

// ListAgentRuns returns runs, newest first, optionally narrowed by project
// and status. Keyset continuation on (started_at, id) keeps pages stable
// while new runs arrive.
func (t *tenantScope) ListAgentRuns(ctx context.Context, filter domain.RunFilter, limit int, cursor domain.Cursor) ([]domain.AgentRun, domain.Cursor, error) {
	limit = clampLimit(limit, 50)
	const query = `SELECT ` + runColumns + ` FROM agent_runs
		WHERE ($1 = '' OR project_id::text = $1)
			AND ($2 = '' OR status = $2)
			AND ($3::timestamptz IS NULL OR (started_at, id) < ($3::timestamptz, $4::uuid))
		ORDER BY started_at DESC, id DESC LIMIT $5`
	cursorAt, cursorID := cursorArgs(cursor)
	rows, err := t.tx.Query(ctx, query, filter.ProjectID, string(filter.Status), cursorAt, cursorID, limit+1)
	if err != nil {
		return nil, domain.Cursor{}, err
	}
	defer rows.Close()

	runs := make([]domain.AgentRun, 0)
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, domain.Cursor{}, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Cursor{}, err
	}
	var next domain.Cursor
	if len(runs) > limit {
		runs = runs[:limit]
		last := runs[limit-1]
		next = domain.Cursor{At: last.StartedAt, ID: last.ID}
	}
	return runs, next, nil
}

// ApplyRunTransition persists a status change handed over by the execution
// runner. The guarded UPDATE only matches non-terminal rows; on zero rows
// an existence probe inside the same transaction decides between Conflict
// (row is already terminal, or running twice) and NotFound.
func (t *tenantScope) ApplyRunTransition(ctx context.Context, transition domain.RunTransition) (*domain.AgentRun, error) {
	var (
		query string
		args  []any
	)
	switch transition.Status {
	case domain.RunStatusRunning:
		query = `UPDATE agent_runs SET status = $2
			WHERE id = $1 AND status = 'pending'
			RETURNING ` + runColumns
		args = []any{transition.RunID, transition.Status}
	case domain.RunStatusCompleted:
		query = `UPDATE agent_runs
			SET status = $2, output_data = $3, completed_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'running')
			RETURNING ` + runColumns
		args = []any{transition.RunID, transition.Status, bytesToNil(transition.Output)}
	case domain.RunStatusFailed:
		query = `UPDATE agent_runs
			SET status = $2, error_message = $3
			WHERE id = $1 AND status IN ('pending', 'running')
			RETURNING ` + runColumns
		args = []any{transition.RunID, transition.Status, nilIfEmpty(transition.ErrorMessage)}
	default:
		return nil, fmt.Errorf("%w: status %q is not a valid transition target", repository.ErrInvalidArgument, transition.Status)
	}

	run, err := t.scanRun(ctx, query, args...)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	const probe = `SELECT status FROM agent_runs WHERE id = $1`
	var current string
	if probeErr := t.tx.QueryRow(ctx, probe, transition.RunID).Scan(&current); probeErr != nil {
		return nil, mapPgError(probeErr)
	}
	return nil, fmt.Errorf("%w: run is %s", repository.ErrConflict, current)
}

func (t *tenantScope) scanRun(ctx context.Context, query string, args ...any) (*domain.AgentRun, error) {
	return scanRunRow(t.tx.QueryRow(ctx, query, args...))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(row rowScanner) (*domain.AgentRun, error) {
	var (
		run         domain.AgentRun
		input       []byte
		output      []byte
		completedAt sql.NullTime
		errMessage  sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.AgentType,
		&input,
		&output,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&errMessage,
	); err != nil {
		return nil, mapPgError(err)
	}
	if len(input) > 0 {
		run.Input = append([]byte(nil), input...)
	}
	if len(output) > 0 {
		run.Output = append([]byte(nil), output...)
	}
	if completedAt.Valid {
		value := completedAt.Time.UTC()
		run.CompletedAt = &value
	}
	if errMessage.Valid {
		value := errMessage.String
		run.ErrorMessage = &value
	}
	return &run, nil
}
