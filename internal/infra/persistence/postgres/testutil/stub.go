// Package testutil provides a scripted stub database for postgres store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"time"
)

// Call records one statement the store sent to the stub.
type Call struct {
	Query string
	Args  []any
}

// Response scripts the outcome of the next query: JSON payload rows or an error.
type Response struct {
	Rows [][]byte
	Err  error
}

// StubConn replays scripted responses in order and records every call.
type StubConn struct {
	mu        sync.Mutex
	Calls     []Call
	Responses []Response
	FailPing  bool
	Closed    bool
}

// NewStubDB registers a sql.DB backed by a fresh stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Push appends scripted responses.
func (c *StubConn) Push(responses ...Response) {
	c.mu.Lock()
	c.Responses = append(c.Responses, responses...)
	c.mu.Unlock()
}

// LastCall returns the most recent recorded call.
func (c *StubConn) LastCall() Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return Call{}
	}
	return c.Calls[len(c.Calls)-1]
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	c.Calls = append(c.Calls, Call{Query: query, Args: vals})
	if len(c.Responses) == 0 {
		return &stubRows{}, nil
	}
	next := c.Responses[0]
	c.Responses = c.Responses[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return &stubRows{rows: next.Rows}, nil
}

type stubRows struct {
	rows [][]byte
	idx  int
}

func (r *stubRows) Columns() []string { return []string{"to_jsonb"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	dest[0] = r.rows[r.idx]
	r.idx++
	return nil
}
