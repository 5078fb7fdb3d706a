package postgres

import (
	"context"

	"github.com/hmellak/aistudio/internal/domain"
)

// AppendUsageLog records an event for the bound tenant. There is no update
// or delete path for usage logs; rows only leave via the user cascade.
func (t *tenantScope) AppendUsageLog(ctx context.Context, entry *domain.UsageLog) error {
	const query = `INSERT INTO usage_logs (id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`
	entry.UserID = t.tenantID
	err := t.tx.QueryRow(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		bytesToNil(entry.Details),
	).Scan(&entry.CreatedAt)
	return mapPgError(err)
}

// ListUsageLogs returns the tenant's events, most recent first, with
// keyset continuation on (created_at, id).
func (t *tenantScope) ListUsageLogs(ctx context.Context, limit int, cursor domain.Cursor) ([]domain.UsageLog, domain.Cursor, error) {
	limit = clampLimit(limit, 100)
	const query = `SELECT id, user_id, action, details, created_at FROM usage_logs
		WHERE ($1::timestamptz IS NULL OR (created_at, id) < ($1::timestamptz, $2::uuid))
		ORDER BY created_at DESC, id DESC LIMIT $3`
	cursorAt, cursorID := cursorArgs(cursor)
	rows, err := t.tx.Query(ctx, query, cursorAt, cursorID, limit+1)
	if err != nil {
		return nil, domain.Cursor{}, err
	}
	defer rows.Close()

	entries := make([]domain.UsageLog, 0)
	for rows.Next() {
		var (
			entry   domain.UsageLog
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &details, &entry.CreatedAt); err != nil {
			return nil, domain.Cursor{}, err
		}
		if len(details) > 0 {
			entry.Details = append([]byte(nil), details...)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Cursor{}, err
	}
	var next domain.Cursor
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[limit-1]
		next = domain.Cursor{At: last.CreatedAt, ID: last.ID}
	}
	return entries, next, nil
}
