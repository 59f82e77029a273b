package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// eventDetails holds the nested lists that are read back whole. People
// get their own table so they can be searched.
type eventDetails struct {
	ExpectedPersonas []ExpectedPersona `json:"expectedPersonas"`
	Sponsors         []Sponsor         `json:"sponsors"`
	NextBestActions  []NextBestAction  `json:"nextBestActions"`
	RelatedEvents    []RelatedEvent    `json:"relatedEvents"`
}

func userOrDefault(userID string) string {
	if u := strings.TrimSpace(userID); u != "" {
		return u
	}
	return DefaultUser
}

func (s *SQLStore) SaveEvent(ctx context.Context, e *Event) (int64, error) {
	if e == nil || strings.TrimSpace(e.URL) == "" {
		return 0, fmt.Errorf("event url is required")
	}
	e.UserID = userOrDefault(e.UserID)
	e.URL = strings.TrimSpace(e.URL)
	e.Normalize()

	ts := s.now().UTC().Format(time.RFC3339)
	if e.AnalyzedAt == "" {
		e.AnalyzedAt = ts
	}
	e.LastViewed = ts

	details, err := json.Marshal(eventDetails{
		ExpectedPersonas: e.ExpectedPersonas,
		Sponsors:         e.Sponsors,
		NextBestActions:  e.NextBestActions,
		RelatedEvents:    e.RelatedEvents,
	})
	if err != nil {
		return 0, fmt.Errorf("encode event details: %w", err)
	}
	var attendees any
	if e.EstimatedAttendees != nil {
		attendees = *e.EstimatedAttendees
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO events (user_id, url, event_name, date, start_date, end_date, location, description,
			estimated_attendees, details, analyzed_at, last_viewed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, url) DO UPDATE SET
			event_name = excluded.event_name,
			date = excluded.date,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			location = excluded.location,
			description = excluded.description,
			estimated_attendees = excluded.estimated_attendees,
			details = excluded.details,
			analyzed_at = excluded.analyzed_at,
			last_viewed = excluded.last_viewed,
			updated_at = excluded.updated_at
		RETURNING id
	`), e.UserID, e.URL, e.EventName, nullable(e.Date), nullable(e.StartDate), nullable(e.EndDate),
		nullable(e.Location), nullable(e.Description), attendees, string(details), e.AnalyzedAt, e.LastViewed, ts, ts).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM event_people WHERE event_id = ?`), id); err != nil {
		return 0, fmt.Errorf("clear event people: %w", err)
	}
	for _, p := range e.People {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO event_people (event_id, name, role, title, company, persona, linkedin, linkedin_message, ice_breaker)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), id, p.Name, nullable(p.Role), nullable(p.Title), nullable(p.Company), nullable(p.Persona),
			nullable(p.LinkedIn), nullable(p.LinkedinMessage), nullable(p.IceBreaker)); err != nil {
			return 0, fmt.Errorf("insert event person: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	e.ID = id
	return id, nil
}

const eventColumns = `id, user_id, url, event_name, date, start_date, end_date, location, description,
	estimated_attendees, details, analyzed_at, last_viewed, created_at, updated_at`

func (s *SQLStore) GetEvent(ctx context.Context, userID, url string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+eventColumns+` FROM events WHERE user_id = ? AND url = ?`),
		userOrDefault(userID), strings.TrimSpace(url))
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if err := s.loadPeople(ctx, []*Event{e}); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEvents orders by start date, newest first.
func (s *SQLStore) ListEvents(ctx context.Context, userID string, f EventFilter) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ?`
	args := []any{userOrDefault(userID)}
	if f.StartDate != "" {
		query += ` AND coalesce(start_date, date) >= ?`
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		query += ` AND coalesce(end_date, start_date, date) <= ?`
		args = append(args, f.EndDate)
	}
	query += ` ORDER BY coalesce(start_date, '') DESC, created_at DESC, id DESC`
	switch {
	case f.Limit > 0:
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	case f.Offset > 0 && !s.d.numbered:
		// sqlite only accepts OFFSET after LIMIT
		query += ` LIMIT -1`
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := []*Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := s.loadPeople(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) DeleteEvent(ctx context.Context, userID, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.q(`SELECT id FROM events WHERE user_id = ? AND url = ?`),
		userOrDefault(userID), strings.TrimSpace(url)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("find event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM event_people WHERE event_id = ?`), id); err != nil {
		return fmt.Errorf("delete event people: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM events WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) SearchPeople(ctx context.Context, userID, query string) ([]*PersonMatch, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT p.name, p.role, p.title, p.company, p.persona, p.linkedin, e.event_name, e.url, e.date
		FROM event_people p
		JOIN events e ON p.event_id = e.id
		WHERE e.user_id = ? AND (
			lower(p.name) LIKE ?
			OR lower(coalesce(p.company, '')) LIKE ?
			OR lower(coalesce(p.title, '')) LIKE ?
			OR lower(coalesce(p.persona, '')) LIKE ?
		)
		ORDER BY lower(p.name), p.id
	`), userOrDefault(userID), pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search people: %w", err)
	}
	defer rows.Close()

	out := []*PersonMatch{}
	for rows.Next() {
		var m PersonMatch
		var role, title, company, persona, linkedin, date sql.NullString
		if err := rows.Scan(&m.Name, &role, &title, &company, &persona, &linkedin, &m.EventName, &m.EventURL, &date); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		m.Role, m.Title, m.Company = role.String, title.String, company.String
		m.Persona, m.LinkedIn, m.EventDate = persona.String, linkedin.String, date.String
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLStore) loadPeople(ctx context.Context, events []*Event) error {
	for _, e := range events {
		rows, err := s.db.QueryContext(ctx, s.q(`
			SELECT name, role, title, company, persona, linkedin, linkedin_message, ice_breaker
			FROM event_people WHERE event_id = ? ORDER BY id
		`), e.ID)
		if err != nil {
			return fmt.Errorf("load event people: %w", err)
		}
		e.People = []Person{}
		for rows.Next() {
			var p Person
			var role, title, company, persona, linkedin, msg, ice sql.NullString
			if err := rows.Scan(&p.Name, &role, &title, &company, &persona, &linkedin, &msg, &ice); err != nil {
				rows.Close()
				return fmt.Errorf("scan event person: %w", err)
			}
			p.Role, p.Title, p.Company, p.Persona = role.String, title.String, company.String, persona.String
			p.LinkedIn, p.LinkedinMessage, p.IceBreaker = linkedin.String, msg.String, ice.String
			e.People = append(e.People, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var date, start, end, location, desc, analyzed, viewed sql.NullString
	var attendees sql.NullInt64
	var details string
	if err := row.Scan(&e.ID, &e.UserID, &e.URL, &e.EventName, &date, &start, &end, &location, &desc,
		&attendees, &details, &analyzed, &viewed, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Date, e.StartDate, e.EndDate = date.String, start.String, end.String
	e.Location, e.Description = location.String, desc.String
	e.AnalyzedAt, e.LastViewed = analyzed.String, viewed.String
	if attendees.Valid {
		n := int(attendees.Int64)
		e.EstimatedAttendees = &n
	}

	var d eventDetails
	if err := json.Unmarshal([]byte(details), &d); err != nil {
		return nil, fmt.Errorf("decode event details: %w", err)
	}
	e.ExpectedPersonas = d.ExpectedPersonas
	e.Sponsors = d.Sponsors
	e.NextBestActions = d.NextBestActions
	e.RelatedEvents = d.RelatedEvents
	e.Normalize()
	return &e, nil
}
