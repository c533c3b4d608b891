package testutil

import (
	"context"
	"errors"
	"testing"
)

func TestStubDBReplaysResponses(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	conn.Push(Response{Rows: [][]byte{[]byte(`{"id":"p1"}`)}}, Response{Err: errors.New("boom")})

	rows, err := db.QueryContext(ctx, "SELECT 1 WHERE x = $1", "p1")
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	var payload []byte
	if !rows.Next() {
		t.Fatalf("expected a row")
	}
	if err := rows.Scan(&payload); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	_ = rows.Close()
	if string(payload) != `{"id":"p1"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	if call := conn.LastCall(); call.Query != "SELECT 1 WHERE x = $1" || len(call.Args) != 1 || call.Args[0] != "p1" {
		t.Fatalf("unexpected call record: %+v", call)
	}

	if _, err := db.QueryContext(ctx, "SELECT 2"); err == nil {
		t.Fatalf("expected scripted error")
	}
	empty, err := db.QueryContext(ctx, "SELECT 3")
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	if empty.Next() {
		t.Fatalf("expected no rows once the script is exhausted")
	}
	_ = empty.Close()
}

func TestStubDBPing(t *testing.T) {
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()
	conn.FailPing = true
	if err := db.PingContext(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}
