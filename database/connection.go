package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/dialect"
	dsql "github.com/syssam/relmap/dialect/sql"
	"github.com/syssam/relmap/methodlog"
)

// Connection is a dedicated database session. Statements run in the open
// transaction when there is one, and are committed on their own
// otherwise. A connection is used by one goroutine at a time.
type Connection struct {
	id     uuid.UUID
	db     *Database
	user   User
	logger *slog.Logger
	log    *methodlog.Logger

	mu         sync.Mutex
	conn       *sql.Conn
	tx         *sql.Tx
	poolTime   time.Time
	retryCount int
}

func newConnection(db *Database, user User, conn *sql.Conn) *Connection {
	id := uuid.New()
	opts := []methodlog.Option{methodlog.Enabled(true)}
	if db.methodLogSize > 0 {
		opts = append(opts, methodlog.WithMaxSize(db.methodLogSize))
	}
	return &Connection{
		id:     id,
		db:     db,
		user:   user,
		conn:   conn,
		logger: db.logger.With("user", user, "connection", id.String()),
		log:    methodlog.New(opts...),
	}
}

// ID returns the connection id.
func (c *Connection) ID() uuid.UUID { return c.id }

// User returns the connected user.
func (c *Connection) User() User { return c.user }

// Database returns the database of the connection.
func (c *Connection) Database() *Database { return c.db }

// Dialect returns the vendor dialect name.
func (c *Connection) Dialect() string { return c.db.Dialect() }

// Features returns the vendor features.
func (c *Connection) Features() dialect.Features { return c.db.features }

// Logger returns the logger of the connection.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// MethodLog returns the method call log of the connection.
func (c *Connection) MethodLog() *methodlog.Logger { return c.log }

// SetLoggingEnabled enables or disables the method log.
func (c *Connection) SetLoggingEnabled(enabled bool) { c.log.SetEnabled(enabled) }

// PoolTime returns when the connection was last returned to a pool.
func (c *Connection) PoolTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolTime
}

// SetPoolTime records when the connection was returned to a pool.
func (c *Connection) SetPoolTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poolTime = t
}

// RetryCount returns the number of retries the last check out took.
func (c *Connection) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// SetRetryCount records the number of retries of a check out.
func (c *Connection) SetRetryCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount = n
}

func (c *Connection) String() string { return "Connection: " + c.user.Username }

// IsConnected reports whether the session is open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// IsValid reports whether the session is usable, running the vendor check
// query or a ping.
func (c *Connection) IsValid(ctx context.Context) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	if q := c.db.features.CheckQuery; q != "" {
		var n any
		return conn.QueryRowContext(ctx, q).Scan(&n) == nil
	}
	return conn.PingContext(ctx) == nil
}

// Disconnect rolls back an open transaction and closes the session.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	errs = append(errs, c.conn.Close())
	c.conn = nil
	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error("disconnect failed", "error", err)
	}
	return err
}

// BeginTransaction opens a transaction. Beginning a second one is an
// error.
func (c *Connection) BeginTransaction(ctx context.Context) (err error) {
	c.log.Access("beginTransaction")
	defer func() { c.logExit("beginTransaction", err) }()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if c.tx != nil {
		return relmap.ErrTxStarted
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin transaction: %w", err)
	}
	c.tx = tx
	c.logger.DebugContext(ctx, "begin transaction")
	return nil
}

// CommitTransaction commits the open transaction. The transaction is
// closed even when the commit fails.
func (c *Connection) CommitTransaction() (err error) {
	return c.endTransaction("commitTransaction", (*sql.Tx).Commit)
}

// RollbackTransaction rolls back the open transaction. The transaction
// is closed even when the rollback fails.
func (c *Connection) RollbackTransaction() (err error) {
	return c.endTransaction("rollbackTransaction", (*sql.Tx).Rollback)
}

func (c *Connection) endTransaction(method string, end func(*sql.Tx) error) (err error) {
	c.log.Access(method)
	defer func() { c.logExit(method, err) }()
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return relmap.ErrTxNotStarted
	}
	c.logger.Debug(method)
	if err := end(tx); err != nil {
		c.logger.Error(method+" failed", "error", err)
		return fmt.Errorf("database: %s: %w", method, err)
	}
	return nil
}

// IsTransactionOpen reports whether a transaction is open.
func (c *Connection) IsTransactionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// ExecQuerier returns the executor of the current session state,
// counting statements in the database statistics.
func (c *Connection) ExecQuerier() (dialect.ExecQuerier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	var ex dsql.ExecQuerier = c.conn
	if c.tx != nil {
		ex = c.tx
	}
	return dsql.NewStatsConn(dsql.NewConn(ex, c.db.Dialect()), c.db.statsOptions()...), nil
}

func (c *Connection) logExit(method string, err error) {
	if _, lerr := c.log.Exit(method, err, ""); lerr != nil {
		c.logger.Warn("method log", "error", lerr)
	}
}

// statement logs a finished statement: at debug level with its duration,
// or at error level on failure.
func (c *Connection) statement(ctx context.Context, query string, start time.Time, err error) {
	d := time.Since(start)
	if err != nil {
		c.logger.ErrorContext(ctx, "statement failed", "query", query, "duration", d, "error", err)
		return
	}
	c.logger.DebugContext(ctx, "statement", "query", query, "duration", d)
}

// Rows runs query and returns its rows open, for callers reading them
// incrementally. The caller closes them.
func (c *Connection) Rows(ctx context.Context, query string, args ...any) (_ *dsql.Rows, err error) {
	c.log.Access("rows", query, args)
	start := time.Now()
	defer func() {
		c.statement(ctx, query, start, err)
		c.logExit("rows", err)
	}()
	ex, err := c.ExecQuerier()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}
	rows := &dsql.Rows{}
	if err := ex.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Query runs query and passes the rows to scan. Statements use ?
// placeholders whatever the vendor.
func (c *Connection) Query(ctx context.Context, query string, scan func(dsql.ColumnScanner) error, args ...any) (err error) {
	c.log.Access("query", query, args)
	start := time.Now()
	defer func() {
		c.statement(ctx, query, start, err)
		c.logExit("query", err)
	}()
	ex, err := c.ExecQuerier()
	if err != nil {
		return err
	}
	if args == nil {
		args = []any{}
	}
	var rows dsql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()
	return scan(rows.ColumnScanner)
}

// QueryStrings returns the first column of every row. NULL values are
// skipped.
func (c *Connection) QueryStrings(ctx context.Context, query string, args ...any) (values []string, err error) {
	err = c.Query(ctx, query, func(rows dsql.ColumnScanner) error {
		values, err = dsql.ScanStrings(rows)
		return err
	}, args...)
	return values, err
}

// QueryInt64 returns the integer selected by query. It fails when no row
// is returned.
func (c *Connection) QueryInt64(ctx context.Context, query string, args ...any) (n int64, err error) {
	err = c.Query(ctx, query, func(rows dsql.ColumnScanner) error {
		n, err = dsql.ScanInt64(rows)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNoRows, query)
		}
		return err
	}, args...)
	return n, err
}

// QueryInts returns the first column of every row as integers.
func (c *Connection) QueryInts(ctx context.Context, query string, args ...any) (values []int64, err error) {
	err = c.Query(ctx, query, func(rows dsql.ColumnScanner) error {
		values, err = dsql.ScanInt64s(rows)
		return err
	}, args...)
	return values, err
}

// QueryObjects returns up to fetchCount rows as untyped values, all rows
// when fetchCount is negative.
func (c *Connection) QueryObjects(ctx context.Context, query string, fetchCount int, args ...any) (rows [][]any, err error) {
	err = c.Query(ctx, query, func(rs dsql.ColumnScanner) error {
		rows, err = dsql.ScanValues(rs, fetchCount)
		return err
	}, args...)
	return rows, err
}

// Execute runs a statement that returns no rows.
func (c *Connection) Execute(ctx context.Context, query string, args ...any) (res sql.Result, err error) {
	c.log.Access("execute", query, args)
	start := time.Now()
	defer func() {
		c.statement(ctx, query, start, err)
		c.logExit("execute", err)
	}()
	ex, err := c.ExecQuerier()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}
	if err := ex.Exec(ctx, query, args, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteBatch runs the statements in order, in the open transaction or
// in a private one committed when all succeed.
func (c *Connection) ExecuteBatch(ctx context.Context, statements ...string) (err error) {
	c.log.Access("executeBatch", len(statements))
	defer func() { c.logExit("executeBatch", err) }()
	private := !c.IsTransactionOpen()
	if private {
		if err := c.BeginTransaction(ctx); err != nil {
			return err
		}
	}
	for _, stmt := range statements {
		if _, err := c.Execute(ctx, stmt); err != nil {
			if private {
				if rerr := c.RollbackTransaction(); rerr != nil {
					return errors.Join(err, &relmap.RollbackError{Err: rerr})
				}
			}
			return err
		}
	}
	if private {
		return c.CommitTransaction()
	}
	return nil
}

// ReadBlob returns the blob in column of the single row of table matching
// where.
func (c *Connection) ReadBlob(ctx context.Context, table, column, where string, args ...any) (data []byte, err error) {
	query := "SELECT " + column + " FROM " + table + " WHERE " + where
	err = c.Query(ctx, query, func(rows dsql.ColumnScanner) error {
		err := dsql.ScanOne(rows, &data)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNoRows, query)
		}
		return err
	}, args...)
	return data, err
}

// WriteBlob writes data to column of the rows of table matching where.
func (c *Connection) WriteBlob(ctx context.Context, table, column, where string, data []byte, args ...any) error {
	query := "UPDATE " + table + " SET " + column + " = ? WHERE " + where
	_, err := c.Execute(ctx, query, append([]any{data}, args...)...)
	return err
}
