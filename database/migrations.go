package database

import (
	"database/sql"

	"github.com/sirupsen/logrus"
)

// migrate creates the schema: registry records, action logs and event logs.
func migrate(db *sql.DB) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "create_containers_table",
			sql: `
CREATE TABLE IF NOT EXISTS containers (
    id TEXT PRIMARY KEY,
    engine_id TEXT,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    image TEXT NOT NULL,
    command TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_containers_created_at ON containers(created_at);
			`,
		},
		{
			name: "create_action_logs_table",
			sql: `
CREATE TABLE IF NOT EXISTS action_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action_type TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    resource_name TEXT,
    success BOOLEAN NOT NULL DEFAULT 0,
    error_message TEXT,
    executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_action_logs_resource ON action_logs(resource_type, resource_id);
CREATE INDEX IF NOT EXISTS idx_action_logs_executed_at ON action_logs(executed_at);
CREATE INDEX IF NOT EXISTS idx_action_logs_action_type ON action_logs(action_type);
			`,
		},
		{
			name: "create_event_logs_table",
			sql: `
CREATE TABLE IF NOT EXISTS event_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_event_logs_type ON event_logs(event_type);
CREATE INDEX IF NOT EXISTS idx_event_logs_level ON event_logs(level);
CREATE INDEX IF NOT EXISTS idx_event_logs_created_at ON event_logs(created_at);
			`,
		},
	}

	for _, migration := range migrations {
		logrus.Debugf("Running migration: %s", migration.name)
		if _, err := db.Exec(migration.sql); err != nil {
			logrus.Errorf("Migration failed for %s: %v", migration.name, err)
			return err
		}
	}

	return nil
}
