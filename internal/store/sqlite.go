package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE COLLATE NOCASE,
			description TEXT,
			industry TEXT,
			context TEXT,
			recent_activity TEXT,
			enriched_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS employees (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			title TEXT,
			linkedin TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_employees_company ON employees(company_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			url TEXT NOT NULL,
			event_name TEXT NOT NULL DEFAULT '',
			date TEXT,
			start_date TEXT,
			end_date TEXT,
			location TEXT,
			description TEXT,
			estimated_attendees INTEGER,
			details TEXT NOT NULL,
			analyzed_at TEXT,
			last_viewed TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user_id, url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_start_date ON events(start_date)`,
		`CREATE TABLE IF NOT EXISTS event_people (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			role TEXT,
			title TEXT,
			company TEXT,
			persona TEXT,
			linkedin TEXT,
			linkedin_message TEXT,
			ice_breaker TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_people_event ON event_people(event_id)`,
	},
	conflictTarget: "(name)",
}

func OpenSQLite(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return newSQLStore(db, sqliteDialect)
}
