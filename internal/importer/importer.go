// Package importer loads event attendee CSV exports into the company store
// through the gtm_add_company tool.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/kbyg/internal/store"
	"github.com/stellarlinkco/kbyg/internal/tools"
)

// Row is one attendee line.
type Row struct {
	Name     string
	Title    string
	Company  string
	LinkedIn string
	Event    string
	Date     string
	Location string
}

var columns = []string{"name", "title", "company", "linkedin", "event", "date", "location"}

// ParseCSV reads rows keyed by header name. Header matching ignores case
// and surrounding space; unknown columns are ignored and "Company" is
// required.
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		index[h] = i
	}
	if _, ok := index["company"]; !ok {
		return nil, fmt.Errorf("csv header has no Company column")
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		vals := make([]string, len(columns))
		for i, col := range columns {
			vals[i] = get(col)
		}
		rows = append(rows, Row{
			Name: vals[0], Title: vals[1], Company: vals[2], LinkedIn: vals[3],
			Event: vals[4], Date: vals[5], Location: vals[6],
		})
	}
	return rows, nil
}

// GroupByCompany folds attendees into one profile per company, in
// first-seen order. Rows without a company are dropped. The context comes
// from the first row seen for each company.
func GroupByCompany(rows []Row, industry string) []*store.Company {
	var out []*store.Company
	byName := map[string]*store.Company{}
	for _, row := range rows {
		if row.Company == "" {
			continue
		}
		c, ok := byName[row.Company]
		if !ok {
			c = &store.Company{
				Name:      row.Company,
				Industry:  industry,
				Context:   attendance(row),
				Employees: []store.Employee{},
			}
			byName[row.Company] = c
			out = append(out, c)
		}
		if row.Name != "" {
			c.Employees = append(c.Employees, store.Employee{Name: row.Name, Title: row.Title, LinkedIn: row.LinkedIn})
		}
	}
	return out
}

func attendance(row Row) string {
	if row.Event == "" {
		return ""
	}
	s := fmt.Sprintf("Attended %q", row.Event)
	if row.Date != "" {
		s += " on " + row.Date
	}
	if city := strings.TrimSpace(strings.Split(row.Location, ",")[0]); city != "" {
		s += " in " + city
	}
	return s
}

type Options struct {
	// Delay between consecutive calls.
	Delay  time.Duration
	DryRun bool
}

type Result struct {
	Total  int
	Added  int
	Failed int
	Errors []string
}

type Importer struct {
	caller tools.Caller
	opts   Options
}

func New(caller tools.Caller, opts Options) *Importer {
	return &Importer{caller: caller, opts: opts}
}

// Run sends each company in order, waiting the configured delay between
// calls. A failed company is recorded and the batch continues. When ctx is
// cancelled Run stops and returns the partial result with ctx.Err().
func (im *Importer) Run(ctx context.Context, companies []*store.Company) (*Result, error) {
	res := &Result{Total: len(companies)}
	for i, c := range companies {
		if im.opts.DryRun {
			log.Printf("[import] dry-run: %s (%d employees)", c.Name, len(c.Employees))
			continue
		}
		if i > 0 && im.opts.Delay > 0 {
			if err := sleep(ctx, im.opts.Delay); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		resp := im.caller.Call(ctx, tools.AddCompany, args(c))
		if resp.Success {
			res.Added++
			log.Printf("[import] added %s (%d employees)", c.Name, len(c.Employees))
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", c.Name, resp.Error))
		log.Printf("[import] failed %s: %s", c.Name, resp.Error)
	}
	return res, nil
}

func args(c *store.Company) map[string]any {
	employees := make([]any, 0, len(c.Employees))
	for _, e := range c.Employees {
		emp := map[string]any{"name": e.Name, "title": e.Title}
		if e.LinkedIn != "" {
			emp["linkedin"] = e.LinkedIn
		}
		employees = append(employees, emp)
	}
	a := map[string]any{"name": c.Name, "employees": employees}
	if c.Industry != "" {
		a["industry"] = c.Industry
	}
	if c.Context != "" {
		a["context"] = c.Context
	}
	return a
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
