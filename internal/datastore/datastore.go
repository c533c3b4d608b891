// Package datastore defines the collection contract every backend implements:
// select, insert, update and delete over named tables with equality filters
// and a single ordering column. Rows are open JSON objects.
package datastore

import (
	"context"
	"errors"
	"strings"
)

// Row is one stored object. Values are JSON-compatible: string, float64,
// json.Number, bool, nil, []any or map[string]any.
type Row = map[string]any

// Filter restricts a query to rows whose column equals Value.
type Filter struct {
	Column string
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Query describes a Select call. An empty OrderBy leaves ordering to the backend.
type Query struct {
	Filters []Filter
	OrderBy string
	Limit   int
}

// Client is a handle to a datastore. Handles are cheap and short lived: the
// API opens one per request and closes it when the response is written.
type Client interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	// Insert stores row and returns the stored representation. Backends that
	// cannot read the row back return nil.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies values to every row matching all filters and returns the
	// rows after the change.
	Update(ctx context.Context, table string, values Row, filters ...Filter) ([]Row, error)
	// Delete removes every row matching all filters and returns the removed rows.
	Delete(ctx context.Context, table string, filters ...Filter) ([]Row, error)
	Driver() string
	Close() error
}

var (
	// ErrConfig reports missing datastore endpoint or credential.
	ErrConfig = errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	// ErrConflict reports a uniqueness violation raised by the datastore.
	ErrConflict = errors.New("duplicate key value violates unique constraint")
)

// Error is a failure reported by the datastore server itself. Its text is the
// server's message alone, so handlers can hand it to clients unchanged.
type Error struct {
	Code     string
	Message  string
	Conflict bool
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "datastore error " + e.Code
	}
}

// Unwrap exposes the driver error, plus ErrConflict for uniqueness violations.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Conflict {
		errs = append(errs, ErrConflict)
	}
	return errs
}

// IsConflict reports whether err is a uniqueness violation. Backends wrap
// ErrConflict when the driver exposes a structured code; otherwise the
// message is matched for "duplicate key" or "unique".
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique")
}
