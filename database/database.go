// Package database connects to a configured vendor database and wraps
// dedicated sessions in a Connection that tracks transaction state,
// counts statements and logs method calls.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/syssam/relmap/dialect"
	dsql "github.com/syssam/relmap/dialect/sql"
)

// Errors returned by databases and connections.
var (
	ErrClosed       = errors.New("database: closed")
	ErrNotConnected = errors.New("database: not connected")
	ErrNoRows       = errors.New("database: no rows returned")
)

// User is a database user.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ParseUser parses "username:password".
func ParseUser(s string) (User, error) {
	name, password, _ := strings.Cut(s, ":")
	if name == "" {
		return User{}, fmt.Errorf("database: invalid user %q", s)
	}
	return User{Username: name, Password: password}, nil
}

// String returns the username.
func (u User) String() string { return u.Username }

// LogValue logs the username only.
func (u User) LogValue() slog.Value { return slog.StringValue(u.Username) }

// Opener opens a database/sql handle.
type Opener func(driverName, source string) (*sql.DB, error)

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger of the database and its connections.
func WithLogger(l *slog.Logger) Option {
	return func(d *Database) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithOpener replaces sql.Open.
func WithOpener(open Opener) Option {
	return func(d *Database) { d.open = open }
}

// WithStatsOptions configures the statement statistics of connections,
// for example the slow query threshold.
func WithStatsOptions(opts ...dsql.StatsOption) Option {
	return func(d *Database) { d.statsOpts = append(d.statsOpts, opts...) }
}

// WithMethodLogSize sets the number of calls kept by connection method
// logs.
func WithMethodLogSize(n int) Option {
	return func(d *Database) { d.methodLogSize = n }
}

// Database is a configured vendor database. It keeps one *sql.DB per user
// and the statistics shared by all its connections.
type Database struct {
	cfg           Config
	features      dialect.Features
	stats         *dsql.QueryStats
	logger        *slog.Logger
	open          Opener
	statsOpts     []dsql.StatsOption
	methodLogSize int
	operations    *Operations

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	closed bool
}

// New returns the database described by cfg. Nothing is opened until the
// first connection.
func New(cfg Config, opts ...Option) (*Database, error) {
	f, err := dialect.FeaturesOf(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	cfg.Dialect = f.Name
	d := &Database{
		cfg:        cfg,
		features:   f,
		stats:      &dsql.QueryStats{},
		logger:     slog.Default(),
		open:       sql.Open,
		operations: NewOperations(),
		dbs:        make(map[string]*sql.DB),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dialect returns the vendor dialect name.
func (d *Database) Dialect() string { return d.features.Name }

// Features returns the vendor features.
func (d *Database) Features() dialect.Features { return d.features }

// Config returns the database config.
func (d *Database) Config() Config { return d.cfg }

// QueryStats returns the statement statistics of all connections.
func (d *Database) QueryStats() *dsql.QueryStats { return d.stats }

// Operations returns the registry of database functions and procedures.
func (d *Database) Operations() *Operations { return d.operations }

// Logger returns the database logger.
func (d *Database) Logger() *slog.Logger { return d.logger }

func (d *Database) statsOptions() []dsql.StatsOption {
	return append(append([]dsql.StatsOption(nil), d.statsOpts...), dsql.WithQueryStats(d.stats))
}

// DB returns the handle connecting as user, opening it when needed.
func (d *Database) DB(user User) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if db, ok := d.dbs[user.Username]; ok {
		return db, nil
	}
	cfg := d.cfg
	if user.Username != "" {
		cfg = cfg.WithUser(user)
	}
	source, err := cfg.ConnectionString()
	if err != nil {
		return nil, err
	}
	db, err := d.open(cfg.DriverName(), source)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", d.cfg, err)
	}
	d.dbs[user.Username] = db
	return db, nil
}

// Connect returns a new connection with a dedicated session for user.
func (d *Database) Connect(ctx context.Context, user User) (*Connection, error) {
	db, err := d.DB(user)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "connect failed", "user", user, "database", d.cfg.String(), "error", err)
		return nil, fmt.Errorf("database: connect %s: %w", user, err)
	}
	c := newConnection(d, user, conn)
	d.logger.DebugContext(ctx, "connected", "user", user, "connection", c.ID())
	return c, nil
}

// Close closes all handles. Connections already made fail afterwards.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	for _, db := range d.dbs {
		errs = append(errs, db.Close())
	}
	d.dbs = nil
	return errors.Join(errs...)
}

// String returns the database description, without credentials.
func (d *Database) String() string { return d.cfg.String() }
