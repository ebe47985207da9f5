// Package storetest provides a database/sql handle whose statements are
// answered by a test function, for exercising repository error mapping
// without a server.
package storetest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
)

// ExecFunc answers an Exec call.
type ExecFunc func(query string, args []driver.NamedValue) (driver.Result, error)

// Open returns a DB that routes every Exec to fn. Queries and transactions
// are not supported.
func Open(fn ExecFunc) *sql.DB {
	return sql.OpenDB(connector{fn: fn})
}

// Fail answers every Exec with err.
func Fail(err error) ExecFunc {
	return func(string, []driver.NamedValue) (driver.Result, error) { return nil, err }
}

// OK answers every Exec with one affected row.
func OK() ExecFunc {
	return func(string, []driver.NamedValue) (driver.Result, error) { return driver.RowsAffected(1), nil }
}

var errUnsupported = errors.New("storetest: only Exec is supported")

type connector struct{ fn ExecFunc }

func (c connector) Connect(context.Context) (driver.Conn, error) { return conn(c), nil }
func (c connector) Driver() driver.Driver                        { return fakeDriver(c) }

type fakeDriver struct{ fn ExecFunc }

func (d fakeDriver) Open(string) (driver.Conn, error) { return conn(d), nil }

type conn struct{ fn ExecFunc }

func (conn) Prepare(string) (driver.Stmt, error) { return nil, errUnsupported }
func (conn) Close() error                        { return nil }
func (conn) Begin() (driver.Tx, error)           { return nil, errUnsupported }

func (c conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.fn(query, args)
}
