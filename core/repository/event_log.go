package repository

import (
	"context"
	"database/sql"

	"nfcunha/orchestrator/core/models"
)

// EventLogRepository handles persistence of system event logs.
type EventLogRepository struct {
	db *sql.DB
}

// NewEventLogRepository creates a new event log repository.
func NewEventLogRepository(db *sql.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

// Create stores an event log and fills in its ID.
func (r *EventLogRepository) Create(ctx context.Context, entry *models.EventLog) error {
	query := `
		INSERT INTO event_logs (event_type, level, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.EventType,
		entry.Level,
		entry.Message,
		nullable(entry.Metadata),
		entry.CreatedAt.UTC(),
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

// GetRecent retrieves recent event logs, optionally filtered by type.
// An empty eventType matches every type.
func (r *EventLogRepository) GetRecent(ctx context.Context, eventType string, limit int) ([]*models.EventLog, error) {
	query := `
		SELECT id, event_type, level, message, metadata, created_at
		FROM event_logs
		WHERE (? = '' OR event_type = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, eventType, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*models.EventLog, 0)
	for rows.Next() {
		entry := &models.EventLog{}
		var metadata sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.EventType,
			&entry.Level,
			&entry.Message,
			&metadata,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}

		entry.Metadata = metadata.String
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// DeleteOlderThan removes event logs older than the given number of days.
func (r *EventLogRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	query := `DELETE FROM event_logs WHERE created_at < datetime('now', '-' || ? || ' days')`
	result, err := r.db.ExecContext(ctx, query, days)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
