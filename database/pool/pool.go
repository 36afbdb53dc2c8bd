// Package pool keeps a pool of database connections for one user, with
// a background cleanup of idle connections and check out statistics.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/relmap/database"
)

var (
	// ErrClosed is returned when requesting a connection from a closed or
	// disabled pool.
	ErrClosed = errors.New("pool: closed")

	// ErrNoConnection is returned when no connection became available
	// within the maximum check out time.
	ErrNoConnection = errors.New("pool: no connection available")

	// ErrTxOpen is returned when a connection with an open transaction
	// is returned.
	ErrTxOpen = errors.New("pool: connection has an open transaction")
)

// NoConnectionError describes a failed check out.
type NoConnectionError struct {
	Retries int
	Elapsed time.Duration
}

func (e *NoConnectionError) Error() string {
	return fmt.Sprintf("pool: no connection available after %d retries (%s)", e.Retries, e.Elapsed)
}

// Is matches ErrNoConnection.
func (e *NoConnectionError) Is(err error) bool { return err == ErrNoConnection }

// Provider creates and destroys the connections of a pool.
type Provider interface {
	Connect(ctx context.Context) (*database.Connection, error)
	Destroy(c *database.Connection) error
	User() database.User
}

// DatabaseProvider connects to a database as a user.
type DatabaseProvider struct {
	db   *database.Database
	user database.User
}

// NewProvider returns a provider connecting to db as user.
func NewProvider(db *database.Database, user database.User) *DatabaseProvider {
	return &DatabaseProvider{db: db, user: user}
}

// Connect returns a new connection.
func (p *DatabaseProvider) Connect(ctx context.Context) (*database.Connection, error) {
	return p.db.Connect(ctx, p.user)
}

// Destroy disconnects c.
func (p *DatabaseProvider) Destroy(c *database.Connection) error { return c.Disconnect() }

// User returns the connecting user.
func (p *DatabaseProvider) User() database.User { return p.user }

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pool is a pool of connections of one user. Connections are reused
// last in, first out.
type Pool struct {
	provider Provider
	logger   *slog.Logger
	counter  *counter

	mu       sync.Mutex
	settings Settings
	idle     []*database.Connection
	inUse    map[*database.Connection]struct{}
	creating bool
	enabled  bool
	closed   bool
	interval chan time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// New returns a pool with the minimum number of connections, created
// concurrently, and starts its cleanup.
func New(ctx context.Context, provider Provider, s Settings, opts ...Option) (*Pool, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		provider: provider,
		logger:   slog.Default(),
		counter:  newCounter(),
		settings: s,
		inUse:    make(map[*database.Connection]struct{}),
		enabled:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("user", provider.User())
	if err := p.initialize(ctx, s.MinSize); err != nil {
		return nil, err
	}
	p.startCleanup(s.CleanupInterval)
	return p, nil
}

func (p *Pool) initialize(ctx context.Context, n int) error {
	conns := make([]*database.Connection, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			c, err := p.provider.Connect(gctx)
			conns[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range conns {
			if c != nil {
				_ = p.provider.Destroy(c)
			}
		}
		return fmt.Errorf("pool: initialize %d connections: %w", n, err)
	}
	now := time.Now()
	for _, c := range conns {
		c.SetPoolTime(now)
	}
	p.mu.Lock()
	p.idle = append(p.idle, conns...)
	p.mu.Unlock()
	p.counter.connectionCreated(n)
	return nil
}

// User returns the user of the pool connections.
func (p *Pool) User() database.User { return p.provider.User() }

// Settings returns the current settings.
func (p *Pool) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Apply replaces the settings, restarting the cleanup timer when its
// interval changed.
func (p *Pool) Apply(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	interval := p.interval
	changed := s.CleanupInterval != p.settings.CleanupInterval
	p.settings = s
	p.mu.Unlock()
	if changed && interval != nil {
		select {
		case <-interval:
		default:
		}
		select {
		case interval <- s.CleanupInterval:
		default:
		}
	}
	return nil
}

// Update applies the settings modified by f, for example with one of the
// validating Settings setters.
func (p *Pool) Update(f func(*Settings) error) error {
	s := p.Settings()
	if err := f(&s); err != nil {
		return err
	}
	return p.Apply(s)
}

// Connection checks out a connection. It takes an idle one when there is
// one, and otherwise retries after a random wait, creating a new one once
// warranted, until the maximum check out time.
func (p *Pool) Connection(ctx context.Context) (*database.Connection, error) {
	p.mu.Lock()
	if !p.enabled || p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	s := p.settings
	p.mu.Unlock()

	p.counter.request()
	start := time.Now()
	if s.FineGrainedStatistics {
		p.counter.addState(p.state(start))
	}
	c := p.fetch(ctx)
	if c == nil {
		p.counter.requestDelayed()
	}
	retries := 0
	for keepTrying := c == nil; keepTrying; keepTrying = c == nil && time.Since(start) < s.MaxCheckOutTime {
		retries++
		if p.newConnectionWarranted(time.Since(start), s) {
			var err error
			if c, err = p.create(ctx); err != nil {
				p.counter.requestFailed()
				return nil, err
			}
			continue
		}
		if err := p.wait(ctx, s.MaxRetryWait); err != nil {
			p.counter.requestFailed()
			return nil, err
		}
		c = p.fetch(ctx)
	}
	elapsed := time.Since(start)
	if c == nil {
		p.counter.requestFailed()
		return nil, &NoConnectionError{Retries: retries, Elapsed: elapsed}
	}
	p.counter.checkOut(elapsed)
	c.SetRetryCount(retries)
	return c, nil
}

// fetch takes the most recently returned idle connection, destroying it
// when it is no longer valid.
func (p *Pool) fetch(ctx context.Context) *database.Connection {
	p.mu.Lock()
	n := len(p.idle)
	if n == 0 {
		p.mu.Unlock()
		return nil
	}
	c := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.inUse[c] = struct{}{}
	p.mu.Unlock()
	if c.IsValid(ctx) {
		return c
	}
	p.mu.Lock()
	delete(p.inUse, c)
	p.mu.Unlock()
	p.destroy(c)
	return nil
}

func (p *Pool) newConnectionWarranted(elapsed time.Duration, s Settings) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	size := len(p.idle) + len(p.inUse)
	return !p.creating && size < s.MaxSize && (size < s.MinSize || elapsed >= s.NewConnectionThreshold)
}

func (p *Pool) create(ctx context.Context) (*database.Connection, error) {
	p.mu.Lock()
	p.creating = true
	p.mu.Unlock()
	c, err := p.provider.Connect(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creating = false
	if err != nil {
		p.logger.ErrorContext(ctx, "creating connection failed", "error", err)
		return nil, fmt.Errorf("pool: create connection: %w", err)
	}
	p.inUse[c] = struct{}{}
	p.counter.connectionCreated(1)
	return c, nil
}

func (p *Pool) wait(ctx context.Context, maxWait time.Duration) error {
	if maxWait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(rand.N(maxWait))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pool) destroy(c *database.Connection) {
	if err := p.provider.Destroy(c); err != nil {
		p.logger.Warn("destroying connection failed", "connection", c.ID(), "error", err)
	}
	p.counter.connectionDestroyed()
}

// Return puts a checked out connection back in the pool. A connection
// with an open transaction is refused. Invalid connections, and those
// returned to a closed pool, are destroyed.
func (p *Pool) Return(ctx context.Context, c *database.Connection) error {
	if c.IsTransactionOpen() {
		return ErrTxOpen
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || !c.IsValid(ctx) {
		p.mu.Lock()
		delete(p.inUse, c)
		p.mu.Unlock()
		p.destroy(c)
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, c)
	c.SetPoolTime(time.Now())
	p.idle = append(p.idle, c)
	return nil
}

func (p *Pool) startCleanup(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = make(chan time.Duration, 1)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.runCleanup(interval, p.interval, p.stop, p.done)
}

func (p *Pool) runCleanup(interval time.Duration, intervals <-chan time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case d := <-intervals:
			t.Reset(d)
		case <-t.C:
			p.Cleanup()
		}
	}
}

// Cleanup destroys the connections idle for longer than the idle
// timeout, keeping the minimum pool size. It runs periodically until the
// pool is closed.
func (p *Pool) Cleanup() {
	now := time.Now()
	var expired []*database.Connection
	p.mu.Lock()
	for i := 0; i < len(p.idle); {
		if len(p.idle)+len(p.inUse) <= p.settings.MinSize {
			break
		}
		if c := p.idle[i]; now.Sub(c.PoolTime()) > p.settings.IdleTimeout {
			expired = append(expired, c)
			p.idle = slices.Delete(p.idle, i, i+1)
			continue
		}
		i++
	}
	p.mu.Unlock()
	for _, c := range expired {
		p.destroy(c)
	}
	if len(expired) > 0 {
		p.logger.Debug("pool cleanup", "destroyed", len(expired))
	}
}

// Close stops the cleanup and destroys the idle connections. Connections
// in use are destroyed when returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	stop, done := p.stop, p.done
	idle := p.idle
	p.idle = nil
	p.interval = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	for _, c := range idle {
		p.destroy(c)
	}
}

// IsEnabled reports whether the pool hands out connections.
func (p *Pool) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// SetEnabled enables or disables the pool. Disabling closes it, enabling
// reopens it.
func (p *Pool) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	reopen := enabled && p.closed
	if reopen {
		p.closed = false
	}
	interval := p.settings.CleanupInterval
	p.mu.Unlock()
	switch {
	case !enabled:
		p.Close()
	case reopen:
		p.startCleanup(interval)
	}
}

func (p *Pool) state(t time.Time) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{Time: t, Available: len(p.idle), InUse: len(p.inUse)}
}

// Statistics returns a snapshot of the pool statistics. Fine grained
// states recorded at or after since are included when enabled.
func (p *Pool) Statistics(since time.Time) Statistics {
	now := time.Now()
	st := p.state(now)
	s := Statistics{
		User:      p.provider.User().Username,
		Timestamp: now,
		Available: st.Available,
		InUse:     st.InUse,
		Size:      st.Size(),
	}
	p.counter.fill(&s)
	if p.Settings().FineGrainedStatistics {
		s.States = p.counter.statesSince(since)
	}
	return s
}

// ResetStatistics clears the statistics counters.
func (p *Pool) ResetStatistics() { p.counter.resetCounters() }
