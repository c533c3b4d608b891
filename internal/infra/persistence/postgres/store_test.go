package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"cruiseline/internal/datastore"
	"cruiseline/internal/infra/persistence/postgres/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "postgres://stub")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestNewStoreRequiresDSN(t *testing.T) {
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://stub"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestNewStoreOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://stub"); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestSelectBuildsFilteredOrderedQuery(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Push(testutil.Response{Rows: [][]byte{[]byte(`{"id":"p1","name":"Alpha","status":"active"}`)}})

	rows, err := store.Select(context.Background(), "projects", datastore.Query{
		Filters: []datastore.Filter{datastore.Eq("id", "p1")},
		OrderBy: "id",
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := []datastore.Row{{"id": "p1", "name": "Alpha", "status": "active"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	call := conn.LastCall()
	wantSQL := `SELECT to_jsonb(t.*) FROM "projects" AS t WHERE t."id"::text = $1 ORDER BY t."id" ASC LIMIT 1`
	if call.Query != wantSQL {
		t.Fatalf("unexpected SQL:\nwant %s\ngot  %s", wantSQL, call.Query)
	}
	if diff := cmp.Diff([]any{"p1"}, call.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectEmptyTableReturnsEmptySlice(t *testing.T) {
	store, _ := newStubStore(t)
	rows, err := store.Select(context.Background(), "records", datastore.Query{OrderBy: "id"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", rows)
	}
}

func TestInsertUsesPopulateRecordAndReturnsRow(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Push(testutil.Response{Rows: [][]byte{[]byte(`{"id":"p1","name":"Alpha","status":"active","created_at":"2026-01-01"}`)}})

	row, err := store.Insert(context.Background(), "projects", datastore.Row{"status": "active", "id": "p1", "name": "Alpha"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row["created_at"] != "2026-01-01" {
		t.Fatalf("expected server-side columns in returned row, got %v", row)
	}
	call := conn.LastCall()
	wantSQL := `INSERT INTO "projects" ("id", "name", "status") SELECT "id", "name", "status" FROM json_populate_record(NULL::"projects", $1::json) RETURNING to_jsonb("projects".*)`
	if call.Query != wantSQL {
		t.Fatalf("unexpected SQL:\nwant %s\ngot  %s", wantSQL, call.Query)
	}
	if len(call.Args) != 1 || !strings.Contains(call.Args[0].(string), `"name":"Alpha"`) {
		t.Fatalf("expected JSON payload argument, got %v", call.Args)
	}
}

func TestInsertUniqueViolationIsConflict(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Push(testutil.Response{Err: &pgconn.PgError{Code: "23505", Message: `duplicate key value violates unique constraint "projects_pkey"`}})

	_, err := store.Insert(context.Background(), "projects", datastore.Row{"id": "p1"})
	if !errors.Is(err, datastore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "projects_pkey") {
		t.Fatalf("expected server message preserved, got %v", err)
	}
}

func TestInsertOtherErrorsPassThrough(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Push(testutil.Response{Err: &pgconn.PgError{Code: "42703", Message: `column "bogus" does not exist`}})

	_, err := store.Insert(context.Background(), "projects", datastore.Row{"id": "p1", "bogus": true})
	if err == nil || errors.Is(err, datastore.ErrConflict) {
		t.Fatalf("expected non-conflict error, got %v", err)
	}
	if err.Error() != `column "bogus" does not exist` {
		t.Fatalf("expected bare server message, got %q", err.Error())
	}
	if _, err := store.Insert(context.Background(), "projects", datastore.Row{}); err == nil {
		t.Fatalf("expected empty row error")
	}
}

func TestUpdateQueryShape(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Push(testutil.Response{Rows: [][]byte{[]byte(`{"id":"p1","status":"archived"}`)}})

	rows, err := store.Update(context.Background(), "projects", datastore.Row{"id": "p1", "status": "archived"}, datastore.Eq("id", "p1"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(rows) != 1 || rows[0]["status"] != "archived" {
		t.Fatalf("unexpected rows %v", rows)
	}
	call := conn.LastCall()
	wantSQL := `UPDATE "projects" AS t SET ("id", "status") = (SELECT "id", "status" FROM json_populate_record(NULL::"projects", $1::json)) WHERE t."id"::text = $2 RETURNING to_jsonb(t.*)`
	if call.Query != wantSQL {
		t.Fatalf("unexpected SQL:\nwant %s\ngot  %s", wantSQL, call.Query)
	}
	if len(call.Args) != 2 || call.Args[1] != "p1" {
		t.Fatalf("unexpected args %v", call.Args)
	}
}

func TestUpdateWithoutValuesSelects(t *testing.T) {
	store, conn := newStubStore(t)
	if _, err := store.Update(context.Background(), "projects", datastore.Row{}, datastore.Eq("id", "p1")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !strings.HasPrefix(conn.LastCall().Query, "SELECT") {
		t.Fatalf("expected select for empty update, got %s", conn.LastCall().Query)
	}
}

func TestDeleteQueryShape(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Push(testutil.Response{})

	rows, err := store.Delete(context.Background(), "records", datastore.Eq("id", "GC-R-001"), datastore.Eq("archival", nil))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %v", rows)
	}
	wantSQL := `DELETE FROM "records" AS t WHERE t."id"::text = $1 AND t."archival" IS NULL RETURNING to_jsonb(t.*)`
	if got := conn.LastCall().Query; got != wantSQL {
		t.Fatalf("unexpected SQL:\nwant %s\ngot  %s", wantSQL, got)
	}
}

func TestIdentifiersAreQuoted(t *testing.T) {
	if got := ident(`we"ird`); got != `"we""ird"` {
		t.Fatalf("unexpected identifier quoting %s", got)
	}
}

func TestDecodeFailure(t *testing.T) {
	store, conn := newStubStore(t)
	conn.Push(testutil.Response{Rows: [][]byte{[]byte(`not json`)}})
	if _, err := store.Select(context.Background(), "projects", datastore.Query{}); err == nil {
		t.Fatalf("expected decode error")
	}
	if store.Driver() != Driver {
		t.Fatalf("unexpected driver %q", store.Driver())
	}
}
