// Package memory provides an in-process datastore used for tests and
// ephemeral environments. Handles opened with the same name share tables, so
// per-request handles observe each other's writes like clients of a hosted
// database would.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cruiseline/internal/datastore"
)

// Compile-time contract assertion ensuring the store satisfies the datastore interface.
var _ datastore.Client = (*Store)(nil)

// Driver is the identifier reported by memory handles.
const Driver = "memory"

// ErrClosed is returned by operations on a closed handle.
var ErrClosed = errors.New("memory: handle closed")

type database struct {
	mu     sync.RWMutex
	tables map[string]map[string]datastore.Row
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*database)
)

// Store is a handle onto a named in-process database.
type Store struct {
	name string
	db   *database
	mu   sync.Mutex
	done bool
}

// Open returns a handle onto the database called name, creating it on first use.
func Open(name string) *Store {
	registryMu.Lock()
	defer registryMu.Unlock()
	db, ok := registry[name]
	if !ok {
		db = &database{tables: make(map[string]map[string]datastore.Row)}
		registry[name] = db
	}
	return &Store{name: name, db: db}
}

// Drop forgets the named database. Existing handles keep their reference.
func Drop(name string) {
	registryMu.Lock()
	delete(registry, name)
	registryMu.Unlock()
}

// Name returns the database name the handle is bound to.
func (s *Store) Name() string { return s.name }

// Driver returns the datastore driver identifier.
func (s *Store) Driver() string { return Driver }

// Close marks the handle unusable. The shared tables are left intact.
func (s *Store) Close() error {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrClosed
	}
	return nil
}

// Select returns clones of matching rows, ordered and limited per q.
func (s *Store) Select(_ context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]datastore.Row, 0, len(s.db.tables[table]))
	for _, row := range s.db.tables[table] {
		if datastore.Matches(row, q.Filters) {
			out = append(out, datastore.CloneRow(row))
		}
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "id"
	}
	datastore.SortRows(out, orderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert stores a clone of row keyed by its id.
func (s *Store) Insert(_ context.Context, table string, row datastore.Row) (datastore.Row, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	key, err := rowKey(table, row)
	if err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rows := s.db.table(table)
	if _, exists := rows[key]; exists {
		return nil, fmt.Errorf("insert %s (id=%s): %w", table, key, datastore.ErrConflict)
	}
	stored := datastore.CloneRow(row)
	rows[key] = stored
	return datastore.CloneRow(stored), nil
}

// Update merges values into every matching row. Changing a row's id to one
// already taken is a conflict and leaves the table untouched.
func (s *Store) Update(_ context.Context, table string, values datastore.Row, filters ...datastore.Filter) ([]datastore.Row, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rows := s.db.table(table)

	next := make(map[string]datastore.Row, len(rows))
	var changed []string
	for key, row := range rows {
		if !datastore.Matches(row, filters) {
			next[key] = row
			continue
		}
		merged := datastore.CloneRow(row)
		for k, v := range datastore.CloneRow(values) {
			merged[k] = v
		}
		newKey, err := rowKey(table, merged)
		if err != nil {
			return nil, err
		}
		if _, taken := next[newKey]; taken {
			return nil, fmt.Errorf("update %s (id=%s): %w", table, newKey, datastore.ErrConflict)
		}
		next[newKey] = merged
		changed = append(changed, newKey)
	}
	for _, key := range changed {
		if old, ok := rows[key]; ok && !datastore.Matches(old, filters) {
			return nil, fmt.Errorf("update %s (id=%s): %w", table, key, datastore.ErrConflict)
		}
	}
	s.db.tables[table] = next

	out := make([]datastore.Row, 0, len(changed))
	for _, key := range changed {
		out = append(out, datastore.CloneRow(next[key]))
	}
	datastore.SortRows(out, "id")
	return out, nil
}

// Delete removes every matching row and returns what was removed.
func (s *Store) Delete(_ context.Context, table string, filters ...datastore.Filter) ([]datastore.Row, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rows := s.db.table(table)
	var out []datastore.Row
	for key, row := range rows {
		if datastore.Matches(row, filters) {
			out = append(out, row)
			delete(rows, key)
		}
	}
	datastore.SortRows(out, "id")
	return out, nil
}

func (db *database) table(name string) map[string]datastore.Row {
	rows, ok := db.tables[name]
	if !ok {
		rows = make(map[string]datastore.Row)
		db.tables[name] = rows
	}
	return rows
}

func rowKey(table string, row datastore.Row) (string, error) {
	id, ok := row["id"]
	if !ok || id == nil {
		return "", fmt.Errorf("null value in column \"id\" of relation %q violates not-null constraint", table)
	}
	return datastore.FormatValue(id), nil
}
