package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			industry TEXT,
			context TEXT,
			recent_activity TEXT,
			enriched_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_name_ci ON companies ((lower(name)))`,
		`CREATE TABLE IF NOT EXISTS employees (
			id BIGSERIAL PRIMARY KEY,
			company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			title TEXT,
			linkedin TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_employees_company ON employees(company_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
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
			UNIQUE (user_id, url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_start_date ON events(start_date)`,
		`CREATE TABLE IF NOT EXISTS event_people (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
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
	conflictTarget: "((lower(name)))",
	numbered:       true,
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for postgres driver")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db, postgresDialect)
}
