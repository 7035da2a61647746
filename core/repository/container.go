package repository

import (
	"database/sql"
	"strings"

	"nfcunha/orchestrator/core/models"
)

// SQLiteContainerStore persists registry records in the containers table.
type SQLiteContainerStore struct {
	db *sql.DB
}

// NewSQLiteContainerStore creates a store on an already migrated database.
func NewSQLiteContainerStore(db *sql.DB) *SQLiteContainerStore {
	return &SQLiteContainerStore{db: db}
}

// Save inserts or updates the record keyed by c.ID.
func (s *SQLiteContainerStore) Save(c *models.Container) error {
	query := `
		INSERT INTO containers (id, engine_id, name, status, image, command, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			engine_id = excluded.engine_id,
			name = excluded.name,
			status = excluded.status,
			image = excluded.image,
			command = excluded.command
	`

	_, err := s.db.Exec(query,
		c.ID,
		nullable(c.EngineID),
		c.Name,
		string(c.Status),
		c.Image,
		nullable(strings.Join(c.Command, " ")),
		c.CreatedAt.UTC(),
	)
	return err
}

// Delete removes the record; deleting an unknown id is not an error.
func (s *SQLiteContainerStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM containers WHERE id = ?`, id)
	return err
}

// List returns every record in creation order.
func (s *SQLiteContainerStore) List() ([]*models.Container, error) {
	rows, err := s.db.Query(`
		SELECT id, engine_id, name, status, image, command, created_at
		FROM containers
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Container, 0)
	for rows.Next() {
		c := &models.Container{}
		var engineID, command sql.NullString
		var status string

		if err := rows.Scan(&c.ID, &engineID, &c.Name, &status, &c.Image, &command, &c.CreatedAt); err != nil {
			return nil, err
		}

		c.EngineID = engineID.String
		c.Status = models.ContainerStatus(status)
		if command.String != "" {
			c.Command = strings.Fields(command.String)
		}
		out = append(out, c)
	}

	return out, rows.Err()
}
