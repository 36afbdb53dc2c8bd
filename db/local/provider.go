package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/database/pool"
	"github.com/syssam/relmap/db"
	"github.com/syssam/relmap/domain"
)

// Provider hands out entity connections over pooled database
// connections.
type Provider struct {
	dom  *domain.Domain
	pool *pool.Pool
	opts []Option
}

var _ db.Provider = (*Provider)(nil)

// NewProvider returns a provider of entity connections for dom over the
// connections of p, configured with opts.
func NewProvider(dom *domain.Domain, p *pool.Pool, opts ...Option) *Provider {
	return &Provider{dom: dom, pool: p, opts: opts}
}

// Pool returns the connection pool.
func (p *Provider) Pool() *pool.Pool { return p.pool }

// Do checks out a connection, runs fn with it and returns it to the
// pool. A transaction fn leaves open is rolled back and reported.
func (p *Provider) Do(ctx context.Context, fn func(context.Context, db.EntityConnection) error) (err error) {
	conn, err := p.pool.Connection(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if conn.IsTransactionOpen() {
			err = errors.Join(err, fmt.Errorf("local: %w left open", relmap.ErrTxStarted), conn.RollbackTransaction())
		}
		err = errors.Join(err, p.pool.Return(ctx, conn))
	}()
	return fn(ctx, New(p.dom, conn, p.opts...))
}

// Close closes the pool.
func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}
