package postgres

import (
	"context"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/repository"
)

const projectColumns = `id, user_id, name, COALESCE(description, ''), status, created_at, updated_at`

// CreateProject inserts a project owned by the bound tenant.
func (t *tenantScope) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, user_id, name, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at`
	project.UserID = t.tenantID
	err := t.tx.QueryRow(ctx, query,
		project.ID,
		project.UserID,
		project.Name,
		nilIfEmpty(project.Description),
		project.Status,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	return mapPgError(err)
}

// GetProjectByID fetches a project. Rows outside the tenant scope are
// invisible and report ErrNotFound.
func (t *tenantScope) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	var p domain.Project
	err := t.tx.QueryRow(ctx, query, projectID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &p, nil
}

// ListProjects returns the tenant's projects, newest first. Continuation
// is keyset-based: the page starts strictly below the cursor's (created_at,
// id) key, so rows inserted between page fetches never push an
// already-seen row into a later page.
func (t *tenantScope) ListProjects(ctx context.Context, limit int, cursor domain.Cursor) ([]domain.Project, domain.Cursor, error) {
	limit = clampLimit(limit, 50)
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE ($1::timestamptz IS NULL OR (created_at, id) < ($1::timestamptz, $2::uuid))
		ORDER BY created_at DESC, id DESC LIMIT $3`
	cursorAt, cursorID := cursorArgs(cursor)
	rows, err := t.tx.Query(ctx, query, cursorAt, cursorID, limit+1)
	if err != nil {
		return nil, domain.Cursor{}, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, domain.Cursor{}, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Cursor{}, err
	}
	var next domain.Cursor
	if len(projects) > limit {
		projects = projects[:limit]
		last := projects[limit-1]
		next = domain.Cursor{At: last.CreatedAt, ID: last.ID}
	}
	return projects, next, nil
}

// UpdateProject applies a partial mutation; nil fields keep stored values.
// updated_at is refreshed by the same statement, so it changes exactly
// when an update succeeds.
func (t *tenantScope) UpdateProject(ctx context.Context, projectID string, update domain.ProjectUpdate) (*domain.Project, error) {
	const query = `UPDATE projects
		SET name = COALESCE($2, name),
			description = COALESCE($3, description),
			status = COALESCE($4, status),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + projectColumns
	var p domain.Project
	err := t.tx.QueryRow(ctx, query,
		projectID,
		update.Name,
		update.Description,
		update.Status,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &p, nil
}

// DeleteProject removes a project; agent runs cascade with it.
func (t *tenantScope) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	cmdTag, err := t.tx.Exec(ctx, query, projectID)
	if err != nil {
		return mapPgError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
