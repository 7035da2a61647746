// Package database provides SQLite connection management for the orchestrator.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Open opens the SQLite database at dbPath and runs migrations.
// The caller owns the returned handle and must Close it on shutdown.
func Open(dbPath string) (*sql.DB, error) {
	logrus.Infof("Opening database at: %s", dbPath)

	// busy_timeout lets concurrent writers queue instead of failing with SQLITE_BUSY
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logrus.Info("Database initialized successfully")
	return db, nil
}
