// Package store persists company profiles and their employee lists.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("company not found")

type Employee struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	LinkedIn string `json:"linkedin,omitempty"`
}

type Company struct {
	ID             int64      `json:"id,omitempty"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Industry       string     `json:"industry,omitempty"`
	Context        string     `json:"context,omitempty"`
	Employees      []Employee `json:"employees"`
	RecentActivity string     `json:"recent_activity,omitempty"`
	EnrichedAt     string     `json:"enriched_at,omitempty"`
	CreatedAt      string     `json:"created_at,omitempty"`
	UpdatedAt      string     `json:"updated_at,omitempty"`
}

// Store is keyed by company name, compared case-insensitively. It also
// keeps analyzed events.
type Store interface {
	EventStore

	// AddCompany inserts or replaces the profile with the same name,
	// including its whole employee list, and returns the row id.
	AddCompany(ctx context.Context, c *Company) (int64, error)
	GetCompany(ctx context.Context, name string) (*Company, error)
	ListCompanies(ctx context.Context) ([]*Company, error)
	// SearchCompanies matches name, description, industry and employee
	// names by substring.
	SearchCompanies(ctx context.Context, query string) ([]*Company, error)
	DeleteCompany(ctx context.Context, name string) error
	Close() error
}

type Options struct {
	Driver string // "sqlite" or "postgres"
	Path   string
	DSN    string
}

func Open(opts Options) (*SQLStore, error) {
	switch opts.Driver {
	case "", "sqlite":
		return OpenSQLite(opts.Path)
	case "postgres":
		return OpenPostgres(opts.DSN)
	default:
		return nil, errors.New("unsupported store driver: " + opts.Driver)
	}
}
