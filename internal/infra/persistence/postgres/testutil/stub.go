// Package testutil provides an in-process stand-in for PostgreSQL that
// answers the statements sqlstate issues against its state and versions
// tables.
package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync/atomic"
)

// columns is the column order sqlstate uses for both INSERT and SELECT.
var columns = map[string][]string{
	"state":    {"bucket", "payload"},
	"versions": {"id", "entity", "object_id", "action", "recorded_at", "serialized_data"},
}

// StubConn records every executed statement and keeps rows in memory keyed
// by table. A transaction restores the rows it started from on rollback.
type StubConn struct {
	Execs    []string
	Tables   map[string][]map[string]any
	FailPing bool
	// FailTables makes inserts into and selects from the named tables fail.
	FailTables map[string]bool

	saved map[string][]map[string]any
}

var stubSeq atomic.Int64

// NewStubDB registers a fresh driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("pgstub%d", stubSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare %q: statements run unprepared", query)
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.saved = make(map[string][]map[string]any, len(c.Tables))
	for table, rows := range c.Tables {
		for _, r := range rows {
			c.saved[table] = append(c.saved[table], maps.Clone(r))
		}
	}
	return rollbackTx{conn: c}, nil
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("connection refused")
	}
	return nil
}

func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	q := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(q, "TRUNCATE TABLE"):
		clear(c.Tables)
	case strings.HasPrefix(q, "INSERT INTO "):
		table, _, _ := strings.Cut(strings.TrimPrefix(q, "INSERT INTO "), "(")
		return c.insert(strings.TrimSpace(table), strings.Contains(q, "ON CONFLICT"), args)
	}
	return driver.RowsAffected(0), nil
}

// insert adds a row keyed on the table's first column, replacing an existing
// row only when upsert is set.
func (c *StubConn) insert(table string, upsert bool, args []driver.NamedValue) (driver.Result, error) {
	cols, ok := columns[table]
	switch {
	case !ok:
		return nil, fmt.Errorf("insert into unknown table %q", table)
	case c.FailTables[table]:
		return nil, fmt.Errorf("insert into %s: disk full", table)
	case len(args) != len(cols):
		return nil, fmt.Errorf("insert into %s: %d values for %d columns", table, len(args), len(cols))
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	for i, existing := range c.Tables[table] {
		if !sameKey(existing[cols[0]], row[cols[0]]) {
			continue
		}
		if !upsert {
			return nil, fmt.Errorf("duplicate key %v in %s", row[cols[0]], table)
		}
		c.Tables[table][i] = row
		return driver.RowsAffected(1), nil
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	_, from, ok := strings.Cut(query, " FROM ")
	fields := strings.Fields(from)
	if !ok || len(fields) == 0 {
		return nil, fmt.Errorf("unsupported query %q", query)
	}
	table := fields[0]
	cols, ok := columns[table]
	if !ok {
		return nil, fmt.Errorf("select from unknown table %q", table)
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("select from %s: connection reset", table)
	}
	rows := &stubRows{cols: cols}
	for _, r := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = r[col]
		}
		rows.values = append(rows.values, vals)
	}
	return rows, nil
}

type rollbackTx struct{ conn *StubConn }

func (t rollbackTx) Commit() error {
	t.conn.saved = nil
	return nil
}

func (t rollbackTx) Rollback() error {
	if t.conn.saved != nil {
		t.conn.Tables, t.conn.saved = t.conn.saved, nil
	}
	return nil
}

type stubRows struct {
	cols   []string
	values [][]driver.Value
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if len(r.values) == 0 {
		return io.EOF
	}
	copy(dest, r.values[0])
	r.values = r.values[1:]
	return nil
}

func sameKey(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && bytes.Equal(ab, bb)
	}
	return a == b
}
