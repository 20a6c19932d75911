// Package store persists schemas and templates as versioned JSON documents.
//
// Templates are written as a document plus a rules sub-collection so rules
// can be queried by family or priority without decoding the template.
// Writes are last-writer-wins per key.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

// ErrNotFound is returned when a key has no stored document.
var ErrNotFound = errors.New("not found")

// Error describes a failed persistence operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}

// Store is the persistence contract of the orchestrator.
type Store interface {
	GetTemplate(ctx context.Context, id string) (*taxonomy.Template, error)
	PutTemplate(ctx context.Context, tpl *taxonomy.Template) error
	// ListTemplates returns the templates of industry, most recently
	// updated first. An empty industry lists every template.
	ListTemplates(ctx context.Context, industry string) ([]*taxonomy.Template, error)

	// AddPerformance appends to a template's performance history.
	AddPerformance(ctx context.Context, p *taxonomy.Performance) error
	// ListPerformance returns a template's history, newest first. A limit
	// <= 0 returns all entries.
	ListPerformance(ctx context.Context, templateID string, limit int) ([]taxonomy.Performance, error)

	GetSchema(ctx context.Context, fingerprint string) (*schema.Schema, error)
	PutSchema(ctx context.Context, sch *schema.Schema) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates a store for driver. dsn is a file path for sqlite and a
// connection string for postgres; it is ignored for memory.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(driver) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverSQLite:
		st, err = NewSQLite(ctx, dsn)
	case DriverPostgres, "postgresql", "pgx":
		st, err = NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ParseURL splits a "driver:dsn" string such as "sqlite:./data.db".
// A bare driver name yields an empty dsn. postgres:// URLs are kept whole.
func ParseURL(s string) (driver, dsn string) {
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		return DriverPostgres, s
	}
	driver, dsn, _ = strings.Cut(s, ":")
	return driver, dsn
}
