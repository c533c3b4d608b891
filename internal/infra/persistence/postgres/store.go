// Package postgres implements the datastore contract directly against a
// Postgres server (including the database behind a Supabase project).
// Tables and their columns are owned by the server; rows travel as JSON and
// are mapped onto columns with json_populate_record so Postgres does the
// type coercion.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cruiseline/internal/datastore"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the datastore interface.
var _ datastore.Client = (*Store)(nil)

// Driver is the identifier reported by postgres handles.
const Driver = "postgres"

const (
	defaultDriver = "pgx"
	// uniqueViolation is the SQLSTATE Postgres raises for duplicate keys.
	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a handle onto one Postgres database.
type Store struct {
	db *sql.DB
}

// NewStore opens and pings the database at dsn.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Driver returns the datastore driver identifier.
func (s *Store) Driver() string { return Driver }

// Close releases the connection.
func (s *Store) Close() error { return s.db.Close() }

// Select runs SELECT to_jsonb(t.*) with equality filters compared as text.
func (s *Store) Select(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	where, args := whereClause(q.Filters, 1)
	stmt := fmt.Sprintf(`SELECT to_jsonb(t.*) FROM %s AS t%s`, ident(table), where)
	if q.OrderBy != "" {
		stmt += fmt.Sprintf(` ORDER BY t.%s ASC`, ident(q.OrderBy))
	}
	if q.Limit > 0 {
		stmt += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	return s.query(ctx, "select "+table, stmt, args...)
}

// Insert writes the row's columns and returns the stored row.
func (s *Store) Insert(ctx context.Context, table string, row datastore.Row) (datastore.Row, error) {
	cols := columns(row)
	if len(cols) == 0 {
		return nil, fmt.Errorf("insert %s: empty row", table)
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	list := strings.Join(cols, ", ")
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM json_populate_record(NULL::%s, $1::json) RETURNING to_jsonb(%s.*)`,
		ident(table), list, list, ident(table), ident(table))
	rows, err := s.query(ctx, "insert "+table, stmt, string(payload))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Update sets the supplied columns on every matching row.
func (s *Store) Update(ctx context.Context, table string, values datastore.Row, filters ...datastore.Filter) ([]datastore.Row, error) {
	cols := columns(values)
	if len(cols) == 0 {
		return s.Select(ctx, table, datastore.Query{Filters: filters})
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	where, args := whereClause(filters, 2)
	list := strings.Join(cols, ", ")
	stmt := fmt.Sprintf(`UPDATE %s AS t SET (%s) = (SELECT %s FROM json_populate_record(NULL::%s, $1::json))%s RETURNING to_jsonb(t.*)`,
		ident(table), list, list, ident(table), where)
	return s.query(ctx, "update "+table, stmt, append([]any{string(payload)}, args...)...)
}

// Delete removes matching rows and returns them.
func (s *Store) Delete(ctx context.Context, table string, filters ...datastore.Filter) ([]datastore.Row, error) {
	where, args := whereClause(filters, 1)
	stmt := fmt.Sprintf(`DELETE FROM %s AS t%s RETURNING to_jsonb(t.*)`, ident(table), where)
	return s.query(ctx, "delete "+table, stmt, args...)
}

func (s *Store) query(ctx context.Context, op, stmt string, args ...any) ([]datastore.Row, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]datastore.Row, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		var row datastore.Row
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify turns server errors into datastore.Error carrying the server's
// message; unique violations also match datastore.ErrConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	return &datastore.Error{
		Code:     pgErr.Code,
		Message:  pgErr.Message,
		Conflict: pgErr.Code == uniqueViolation,
		Err:      err,
	}
}

func whereClause(filters []datastore.Filter, firstArg int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for i, f := range filters {
		if f.Value == nil {
			conds = append(conds, fmt.Sprintf(`t.%s IS NULL`, ident(f.Column)))
			continue
		}
		conds = append(conds, fmt.Sprintf(`t.%s::text = $%d`, ident(f.Column), firstArg+len(args)))
		args = append(args, datastore.FormatValue(filters[i].Value))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// columns returns the row's keys quoted as identifiers, sorted for stable SQL.
func columns(row datastore.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = ident(k)
	}
	return keys
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
