package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type dialect struct {
	name           string
	schema         []string
	conflictTarget string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

// SQLStore implements Store on database/sql for both supported drivers.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d, now: time.Now}
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return s, nil
}

func (s *SQLStore) Driver() string { return s.d.name }

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	if !s.d.numbered {
		return query
	}
	return rebind(query)
}

// rebind rewrites ? placeholders to $n.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) AddCompany(ctx context.Context, c *Company) (int64, error) {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return 0, fmt.Errorf("company name is required")
	}
	ts := s.now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO companies (name, description, industry, context, recent_activity, enriched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT `+s.d.conflictTarget+` DO UPDATE SET
			description = excluded.description,
			industry = excluded.industry,
			context = excluded.context,
			recent_activity = excluded.recent_activity,
			enriched_at = excluded.enriched_at,
			updated_at = excluded.updated_at
		RETURNING id
	`), strings.TrimSpace(c.Name), nullable(c.Description), nullable(c.Industry), nullable(c.Context),
		nullable(c.RecentActivity), nullable(c.EnrichedAt), ts, ts).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert company: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM employees WHERE company_id = ?`), id); err != nil {
		return 0, fmt.Errorf("clear employees: %w", err)
	}
	for _, e := range c.Employees {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO employees (company_id, name, title, linkedin) VALUES (?, ?, ?, ?)`),
			id, e.Name, nullable(e.Title), nullable(e.LinkedIn)); err != nil {
			return 0, fmt.Errorf("insert employee: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

const companyColumns = `c.id, c.name, c.description, c.industry, c.context, c.recent_activity, c.enriched_at, c.created_at, c.updated_at`

func (s *SQLStore) GetCompany(ctx context.Context, name string) (*Company, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+companyColumns+` FROM companies c WHERE lower(c.name) = lower(?)`), strings.TrimSpace(name))
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	if err := s.loadEmployees(ctx, []*Company{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLStore) ListCompanies(ctx context.Context) ([]*Company, error) {
	return s.queryCompanies(ctx, `SELECT `+companyColumns+` FROM companies c ORDER BY lower(c.name)`)
}

func (s *SQLStore) SearchCompanies(ctx context.Context, query string) ([]*Company, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	return s.queryCompanies(ctx, `
		SELECT `+companyColumns+` FROM companies c
		WHERE lower(c.name) LIKE ?
		   OR lower(coalesce(c.description, '')) LIKE ?
		   OR lower(coalesce(c.industry, '')) LIKE ?
		   OR EXISTS (SELECT 1 FROM employees e WHERE e.company_id = c.id AND lower(e.name) LIKE ?)
		ORDER BY lower(c.name)
	`, pattern, pattern, pattern, pattern)
}

func (s *SQLStore) DeleteCompany(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.q(`SELECT id FROM companies WHERE lower(name) = lower(?)`), strings.TrimSpace(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find company: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM employees WHERE company_id = ?`), id); err != nil {
		return fmt.Errorf("delete employees: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM companies WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) queryCompanies(ctx context.Context, query string, args ...any) ([]*Company, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	out := []*Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan company: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.loadEmployees(ctx, out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Company{}
	}
	return out, nil
}

func (s *SQLStore) loadEmployees(ctx context.Context, companies []*Company) error {
	for _, c := range companies {
		rows, err := s.db.QueryContext(ctx, s.q(`SELECT name, title, linkedin FROM employees WHERE company_id = ? ORDER BY id`), c.ID)
		if err != nil {
			return fmt.Errorf("load employees: %w", err)
		}
		c.Employees = []Employee{}
		for rows.Next() {
			var e Employee
			var title, linkedin sql.NullString
			if err := rows.Scan(&e.Name, &title, &linkedin); err != nil {
				rows.Close()
				return fmt.Errorf("scan employee: %w", err)
			}
			e.Title = title.String
			e.LinkedIn = linkedin.String
			c.Employees = append(c.Employees, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompany(row scanner) (*Company, error) {
	var c Company
	var desc, industry, ctxText, recent, enriched sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &desc, &industry, &ctxText, &recent, &enriched, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Description = desc.String
	c.Industry = industry.String
	c.Context = ctxText.String
	c.RecentActivity = recent.String
	c.EnrichedAt = enriched.String
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
