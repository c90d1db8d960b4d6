// Package testutil provides a scripted stub database for postgres backend
// tests that run without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Statement is one recorded call.
type Statement struct {
	Query string
	Args  []any
}

// Result scripts the rows returned for queries containing Match.
type Result struct {
	Match string
	Cols  []string
	Rows  [][]driver.Value
}

// StubConn records statements and answers queries from scripted results.
type StubConn struct {
	mu       sync.Mutex
	Execs    []Statement
	Queries  []Statement
	Results  []Result
	FailExec bool
	FailPing bool
	RowsErr  error
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by a fresh stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Script appends a scripted result.
func (c *StubConn) Script(match string, cols []string, rows ...[]driver.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Results = append(c.Results, Result{Match: match, Cols: cols, Rows: rows})
}

// LastExec returns the most recent exec containing substr.
func (c *StubConn) LastExec(substr string) (Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Execs) - 1; i >= 0; i-- {
		if strings.Contains(c.Execs[i].Query, substr) {
			return c.Execs[i], true
		}
	}
	return Statement{}, false
}

// LastQuery returns the most recent query containing substr.
func (c *StubConn) LastQuery(substr string) (Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Queries) - 1; i >= 0; i-- {
		if strings.Contains(c.Queries[i].Query, substr) {
			return c.Queries[i], true
		}
	}
	return Statement{}, false
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
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, Statement{Query: query, Args: values(args)})
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, Statement{Query: query, Args: values(args)})
	for _, r := range c.Results {
		if strings.Contains(query, r.Match) {
			return &stubRows{cols: r.Cols, rows: r.Rows, err: c.RowsErr}, nil
		}
	}
	cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	return &stubRows{cols: cols, err: c.RowsErr}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func parseSelect(query string) ([]string, error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return splitColumns(query[len(selectPrefix):fromIdx]), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
