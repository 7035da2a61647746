// Package repository provides the data access layer for registry records and audit logs.
package repository

import (
	"context"
	"database/sql"

	"nfcunha/orchestrator/core/models"
)

const actionLogColumns = `id, action_type, resource_type, resource_id, resource_name, success, error_message, executed_at`

// ActionLogRepository handles persistence of lifecycle action logs.
type ActionLogRepository struct {
	db *sql.DB
}

// NewActionLogRepository creates a new action log repository.
func NewActionLogRepository(db *sql.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Create stores an action log and fills in its ID.
func (r *ActionLogRepository) Create(ctx context.Context, entry *models.ActionLog) error {
	query := `
		INSERT INTO action_logs (
			action_type, resource_type, resource_id, resource_name,
			success, error_message, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.ActionType,
		entry.ResourceType,
		entry.ResourceID,
		nullable(entry.ResourceName),
		entry.Success,
		nullable(entry.ErrorMessage),
		entry.ExecutedAt.UTC(),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// GetByResource retrieves the most recent action logs for one resource.
func (r *ActionLogRepository) GetByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*models.ActionLog, error) {
	query := `SELECT ` + actionLogColumns + `
		FROM action_logs
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, resourceType, resourceID, limit)
	if err != nil {
		return nil, err
	}
	return scanActionLogs(rows)
}

// GetRecent retrieves recent action logs across all resources.
func (r *ActionLogRepository) GetRecent(ctx context.Context, limit int) ([]*models.ActionLog, error) {
	query := `SELECT ` + actionLogColumns + `
		FROM action_logs
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanActionLogs(rows)
}

// DeleteOlderThan removes action logs older than the given number of days.
func (r *ActionLogRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	query := `DELETE FROM action_logs WHERE executed_at < datetime('now', '-' || ? || ' days')`
	result, err := r.db.ExecContext(ctx, query, days)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanActionLogs(rows *sql.Rows) ([]*models.ActionLog, error) {
	defer rows.Close()

	logs := make([]*models.ActionLog, 0)
	for rows.Next() {
		entry := &models.ActionLog{}
		var errorMsg, resourceName sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.ActionType,
			&entry.ResourceType,
			&entry.ResourceID,
			&resourceName,
			&entry.Success,
			&errorMsg,
			&entry.ExecutedAt,
		); err != nil {
			return nil, err
		}

		entry.ErrorMessage = errorMsg.String
		entry.ResourceName = resourceName.String
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// nullable maps "" to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
