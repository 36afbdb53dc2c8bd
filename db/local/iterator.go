package local

import (
	"context"
	"errors"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/db"
	dsql "github.com/syssam/relmap/dialect/sql"
	"github.com/syssam/relmap/domain"
)

// iterator reads entities from open rows.
type iterator struct {
	def     *domain.Definition
	columns []domain.Columnar
	rows    *dsql.Rows
	entity  *domain.Entity
	read    int
	limit   int
	err     error
	closed  bool
}

// Iterator returns an iterator over the rows selected by sel, without
// fetching references. The connection must not be used for other
// statements until the iterator is closed.
func (c *Connection) Iterator(ctx context.Context, sel *condition.Select) (_ db.Iterator, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Access("iterator", sel)
	defer func() {
		if _, lerr := c.log.Exit("iterator", err, ""); lerr != nil {
			c.logger.Warn("method log", "error", lerr)
		}
	}()
	def, err := c.definition(sel.EntityID)
	if err != nil {
		return nil, err
	}
	sel, err = c.evalQuery(ctx, sel)
	if err != nil {
		return nil, err
	}
	columns := def.SelectableColumns()
	query, args, err := c.selectQuery(def, sel, columns, true)
	if err != nil {
		return nil, err
	}
	rows, err := c.conn.Rows(ctx, query, args...)
	if err != nil {
		return nil, relmap.NewQueryError(def.ID(), "iterator", err)
	}
	return &iterator{def: def, columns: columns, rows: rows, limit: sel.FetchCount}, nil
}

func (it *iterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if (it.limit > 0 && it.read >= it.limit) || !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	it.entity, it.err = scanEntity(it.def, it.columns, it.rows)
	if it.err != nil {
		return false
	}
	it.read++
	return true
}

func (it *iterator) Entity() *domain.Entity { return it.entity }

func (it *iterator) Err() error { return it.err }

func (it *iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.entity = nil
	if err := it.rows.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
