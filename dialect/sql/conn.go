package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syssam/relmap/dialect"
)

// ExecQuerier wraps the standard Exec and Query methods. It is implemented
// by *sql.DB, *sql.Conn and *sql.Tx.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn runs statements on a session or transaction of one vendor.
// Statements are written with ? placeholders and rebound for the vendor
// before they are sent.
type Conn struct {
	ex       ExecQuerier
	features dialect.Features
}

var _ dialect.ExecQuerier = Conn{}

// NewConn returns a Conn running statements on ex. Unknown dialect names
// get the ? placeholder style.
func NewConn(ex ExecQuerier, name string) Conn {
	f, err := dialect.FeaturesOf(name)
	if err != nil {
		f = dialect.Features{Name: name}
	}
	return Conn{ex: ex, features: f}
}

// Features returns the features of the connection dialect.
func (c Conn) Features() dialect.Features { return c.features }

// Exec runs a statement returning no rows. args must be a []any and v nil
// or a *Result receiving the statement result.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	var res *Result
	switch v := v.(type) {
	case nil:
	case *Result:
		res = v
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	r, err := c.ex.ExecContext(ctx, c.features.Rebind(query), argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: %w", err)
	}
	if res != nil {
		*res = r
	}
	return nil
}

// Query runs a statement returning rows into v, a *Rows the caller
// closes. args must be a []any.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	rows, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rs, err := c.ex.QueryContext(ctx, c.features.Rebind(query), argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*rows = Rows{rs}
	return nil
}

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}
