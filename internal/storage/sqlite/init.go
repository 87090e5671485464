package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the sessions table if
// it doesn't exist. ":memory:" is accepted.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; one connection also keeps ":memory:" a
	// single database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY,
		session_id TEXT UNIQUE NOT NULL,
		instance_id TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		downloaded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		started_at TEXT NOT NULL,
		finished_at TEXT,
		cleaned_at TEXT
	)`)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	return db, nil
}
