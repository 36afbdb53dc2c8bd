// Package local implements the entity connection over a dedicated
// database connection: entities are written with generated statements,
// selects fetch foreign key references, and every operation outside an
// open transaction runs in a private one.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/database"
	"github.com/syssam/relmap/db"
	dsql "github.com/syssam/relmap/dialect/sql"
	"github.com/syssam/relmap/domain"
	"github.com/syssam/relmap/methodlog"
)

// maxFetchDepth bounds reference fetching when depth limiting is off,
// so that cyclic references terminate.
const maxFetchDepth = 64

// Connection is an entity connection over a database connection.
type Connection struct {
	dom    *domain.Domain
	conn   *database.Connection
	logger *slog.Logger
	log    *methodlog.Logger

	policy   relmap.Policy
	hooks    []relmap.Hook
	cache    relmap.Cache
	cacheTTL time.Duration
	validate bool

	mu                sync.Mutex
	optimisticLocking bool
	limitFetchDepth   bool

	// private is set while run holds a transaction of its own.
	private bool
	// pending holds the entity types mutated in the open transaction,
	// invalidated again when it ends.
	pending map[string]bool
}

var _ db.EntityConnection = (*Connection)(nil)

// Option configures a Connection.
type Option func(*Connection)

// WithOptimisticLocking enables or disables optimistic locking on
// update. It is enabled by default.
func WithOptimisticLocking(enabled bool) Option {
	return func(c *Connection) { c.optimisticLocking = enabled }
}

// WithLimitFetchDepth enables or disables the foreign key fetch depth
// limits. When disabled all references are fetched. It is enabled by
// default.
func WithLimitFetchDepth(enabled bool) Option {
	return func(c *Connection) { c.limitFetchDepth = enabled }
}

// WithPolicy sets the privacy policy evaluated before each select and
// mutation.
func WithPolicy(p relmap.Policy) Option {
	return func(c *Connection) { c.policy = p }
}

// WithHooks appends mutation hooks. The first hook is the outermost.
func WithHooks(hooks ...relmap.Hook) Option {
	return func(c *Connection) { c.hooks = append(c.hooks, hooks...) }
}

// WithCache caches the selects of static data entity types.
func WithCache(cache relmap.Cache, ttl time.Duration) Option {
	return func(c *Connection) { c.cache, c.cacheTTL = cache, ttl }
}

// WithValidation validates entities with their definition validator
// before insert and update.
func WithValidation() Option {
	return func(c *Connection) { c.validate = true }
}

// WithLogger sets the logger, the database connection logger by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// New returns an entity connection for the entities of dom over conn.
func New(dom *domain.Domain, conn *database.Connection, opts ...Option) *Connection {
	c := &Connection{
		dom:               dom,
		conn:              conn,
		logger:            conn.Logger(),
		log:               conn.MethodLog(),
		optimisticLocking: true,
		limitFetchDepth:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log.SetFormatter(argumentFormatter)
	return c
}

// Connect connects user to d and returns an entity connection for dom.
func Connect(ctx context.Context, d *database.Database, dom *domain.Domain, user database.User, opts ...Option) (*Connection, error) {
	conn, err := d.Connect(ctx, user)
	if err != nil {
		return nil, err
	}
	return New(dom, conn, opts...), nil
}

// Domain returns the domain of the connection.
func (c *Connection) Domain() *domain.Domain { return c.dom }

// User returns the connected user.
func (c *Connection) User() database.User { return c.conn.User() }

// DatabaseConnection returns the underlying database connection.
func (c *Connection) DatabaseConnection() *database.Connection { return c.conn }

// MethodLog returns the method log shared with the database connection.
func (c *Connection) MethodLog() *methodlog.Logger { return c.log }

// IsConnected reports whether the database connection is open.
func (c *Connection) IsConnected() bool { return c.conn.IsConnected() }

// Disconnect closes the database connection, rolling back an open
// transaction.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.conn.Disconnect()
	c.endTransaction(context.Background())
	return err
}

// OptimisticLocking reports whether optimistic locking is enabled.
func (c *Connection) OptimisticLocking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.optimisticLocking
}

// SetOptimisticLocking enables or disables optimistic locking.
func (c *Connection) SetOptimisticLocking(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.optimisticLocking = enabled
}

// LimitFetchDepth reports whether foreign key fetch depths are limited.
func (c *Connection) LimitFetchDepth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limitFetchDepth
}

// SetLimitFetchDepth enables or disables the fetch depth limits.
func (c *Connection) SetLimitFetchDepth(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limitFetchDepth = enabled
}

// IsTransactionOpen reports whether a transaction is open.
func (c *Connection) IsTransactionOpen() bool { return c.conn.IsTransactionOpen() }

// BeginTransaction opens a transaction.
func (c *Connection) BeginTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.BeginTransaction(ctx)
}

// CommitTransaction commits the open transaction.
func (c *Connection) CommitTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.conn.CommitTransaction()
	c.endTransaction(ctx)
	return err
}

// RollbackTransaction rolls back the open transaction.
func (c *Connection) RollbackTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.conn.RollbackTransaction()
	c.endTransaction(ctx)
	return err
}

// inTransaction reports whether a transaction opened by the caller is
// open, as opposed to a private one of run.
func (c *Connection) inTransaction() bool {
	return !c.private && c.conn.IsTransactionOpen()
}

// endTransaction invalidates the cache entries of the entity types
// mutated in the transaction that just ended, which other connections
// may have filled with rows read before the commit.
func (c *Connection) endTransaction(ctx context.Context) {
	if len(c.pending) == 0 {
		return
	}
	ids := slices.Sorted(maps.Keys(c.pending))
	c.pending = nil
	c.invalidate(ctx, ids...)
}

// ExecuteFunction runs a function registered with the database.
func (c *Connection) ExecuteFunction(ctx context.Context, id string, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.ExecuteFunction(ctx, id, args...)
}

// ExecuteProcedure runs a procedure registered with the database.
func (c *Connection) ExecuteProcedure(ctx context.Context, id string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.ExecuteProcedure(ctx, id, args...)
}

// run logs the method and calls fn in the open transaction, or in a
// private one committed when fn succeeds and rolled back otherwise.
func (c *Connection) run(ctx context.Context, method string, args []any, fn func(context.Context) error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Access(method, args...)
	defer func() {
		if _, lerr := c.log.Exit(method, err, ""); lerr != nil {
			c.logger.Warn("method log", "error", lerr)
		}
	}()
	if c.conn.IsTransactionOpen() {
		return fn(ctx)
	}
	if err := c.conn.BeginTransaction(ctx); err != nil {
		return err
	}
	c.private = true
	defer func() { c.private = false }()
	if err := fn(ctx); err != nil {
		if rerr := c.conn.RollbackTransaction(); rerr != nil {
			return errors.Join(err, &relmap.RollbackError{Err: rerr})
		}
		return err
	}
	return c.conn.CommitTransaction()
}

func (c *Connection) builder() *dsql.DialectBuilder {
	return dsql.Dialect(c.conn.Dialect())
}

func (c *Connection) definition(entityID string) (*domain.Definition, error) {
	def, ok := c.dom.Definition(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUndefinedEntity, entityID)
	}
	return def, nil
}

// checkWritable returns an error if one of the entity types is read only.
func (c *Connection) checkWritable(entityIDs ...string) error {
	for _, id := range entityIDs {
		def, err := c.definition(id)
		if err != nil {
			return err
		}
		if def.ReadOnly() {
			return fmt.Errorf("%w: %s", relmap.ErrReadOnly, id)
		}
	}
	return nil
}

// group holds entities of one type in the order they were given.
type group struct {
	def      *domain.Definition
	entities []*domain.Entity
}

func groupByEntity(entities []*domain.Entity) []*group {
	var (
		groups []*group
		index  = make(map[string]*group)
	)
	for _, e := range entities {
		g, ok := index[e.EntityID()]
		if !ok {
			g = &group{def: e.Definition()}
			index[e.EntityID()] = g
			groups = append(groups, g)
		}
		g.entities = append(g.entities, e)
	}
	return groups
}

func entityIDs(groups []*group) []string {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.def.ID()
	}
	return ids
}

// driverValue returns v as passed to the driver.
func driverValue(v any) any {
	if r, ok := v.(rune); ok {
		return string(r)
	}
	return v
}
