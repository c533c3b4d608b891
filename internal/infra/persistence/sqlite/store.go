// Package sqlite implements the datastore contract on a local SQLite file.
// Each collection is a table of (id, payload) where payload holds the row as
// JSON, so rows keep arbitrary extra fields without a fixed schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"cruiseline/internal/datastore"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Compile-time contract assertion ensuring the store satisfies the datastore interface.
var _ datastore.Client = (*Store)(nil)

// Driver is the identifier reported by sqlite handles.
const Driver = "sqlite"

const defaultPath = "cruiseline.db"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a handle onto one SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens the database at path (falls back to cruiseline.db), creating
// parent directories as needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Driver returns the datastore driver identifier.
func (s *Store) Driver() string { return Driver }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Select reads matching rows. The id filter is pushed into SQL; other
// filters are applied to the decoded payloads.
func (s *Store) Select(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rows, err := loadRows(ctx, s.db, table, q.Filters)
	if err != nil {
		return nil, err
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "id"
	}
	datastore.SortRows(rows, orderBy)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// Insert stores row under its id.
func (s *Store) Insert(ctx context.Context, table string, row datastore.Row) (datastore.Row, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	id, payload, err := encodeRow(table, row)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s(id, payload) VALUES(?, ?)`, quote(table))
	if _, err := s.db.ExecContext(ctx, stmt, id, payload); err != nil {
		return nil, classify(err)
	}
	return datastore.CloneRow(row), nil
}

// Update merges values into each matching row inside a transaction.
func (s *Store) Update(ctx context.Context, table string, values datastore.Row, filters ...datastore.Filter) (_ []datastore.Row, retErr error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	matched, err := loadRows(ctx, tx, table, filters)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET id = ?, payload = ? WHERE id = ?`, quote(table))
	out := make([]datastore.Row, 0, len(matched))
	for _, row := range matched {
		oldID := datastore.FormatValue(row["id"])
		for k, v := range values {
			row[k] = v
		}
		newID, payload, err := encodeRow(table, row)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, stmt, newID, payload, oldID); err != nil {
			return nil, classify(err)
		}
		out = append(out, datastore.CloneRow(row))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	datastore.SortRows(out, "id")
	return out, nil
}

// Delete removes each matching row inside a transaction.
func (s *Store) Delete(ctx context.Context, table string, filters ...datastore.Filter) (_ []datastore.Row, retErr error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	matched, err := loadRows(ctx, tx, table, filters)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, quote(table))
	for _, row := range matched {
		if _, err := tx.ExecContext(ctx, stmt, datastore.FormatValue(row["id"])); err != nil {
			return nil, fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return matched, nil
}

func (s *Store) ensureTable(ctx context.Context, table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	)`, quote(table))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", table, err)
	}
	return nil
}

func loadRows(ctx context.Context, q querier, table string, filters []datastore.Filter) ([]datastore.Row, error) {
	stmt := fmt.Sprintf(`SELECT payload FROM %s`, quote(table))
	var args []any
	rest := make([]datastore.Filter, 0, len(filters))
	for _, f := range filters {
		if f.Column == "id" && len(args) == 0 {
			stmt += ` WHERE id = ?`
			args = append(args, datastore.FormatValue(f.Value))
			continue
		}
		rest = append(rest, f)
	}
	stmt += ` ORDER BY id`
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]datastore.Row, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var row datastore.Row
		if err := json.Unmarshal([]byte(payload), &row); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		if datastore.Matches(row, rest) {
			out = append(out, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func encodeRow(table string, row datastore.Row) (string, string, error) {
	id, ok := row["id"]
	if !ok || id == nil {
		return "", "", fmt.Errorf("NOT NULL constraint failed: %s.id", table)
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return "", "", fmt.Errorf("encode %s: %w", table, err)
	}
	return datastore.FormatValue(id), string(payload), nil
}

// classify turns driver errors into datastore.Error; primary-key and unique
// violations also match datastore.ErrConflict.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	return &datastore.Error{
		Code:     strconv.Itoa(code),
		Message:  se.Error(),
		Conflict: code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		Err:      err,
	}
}

func quote(table string) string {
	return `"` + table + `"`
}
