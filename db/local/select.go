package local

import (
	"context"
	"fmt"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
	dsql "github.com/syssam/relmap/dialect/sql"
	"github.com/syssam/relmap/domain"
)

// SelectByKey returns the entity with the given key.
func (c *Connection) SelectByKey(ctx context.Context, key *domain.Key) (*domain.Entity, error) {
	return c.SelectSingle(ctx, condition.Where(key.EntityID(), condition.Key(key)))
}

// SelectSingleValue returns the single entity whose property pid equals
// value.
func (c *Connection) SelectSingleValue(ctx context.Context, entityID, pid string, value any) (*domain.Entity, error) {
	return c.SelectSingle(ctx, condition.Where(entityID, condition.EQ(pid, value)))
}

// SelectSingle returns the single entity selected by sel. It fails with a
// NotFoundError when no row matches, and with a NotSingularError when
// more than one does.
func (c *Connection) SelectSingle(ctx context.Context, sel *condition.Select) (*domain.Entity, error) {
	entities, err := c.Select(ctx, sel)
	if err != nil {
		return nil, err
	}
	switch len(entities) {
	case 0:
		return nil, relmap.NewNotFoundError(sel.EntityID, formatArgument(sel.Where))
	case 1:
		return entities[0], nil
	default:
		return nil, relmap.NewNotSingularError(sel.EntityID, len(entities))
	}
}

// SelectKeys returns the entities with the given keys, which may be of
// different entity types.
func (c *Connection) SelectKeys(ctx context.Context, keys ...*domain.Key) ([]*domain.Entity, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var entities []*domain.Entity
	err := c.run(ctx, "selectKeys", []any{keys}, func(ctx context.Context) error {
		var order []string
		byType := make(map[string][]*domain.Key)
		for _, k := range keys {
			if _, ok := byType[k.EntityID()]; !ok {
				order = append(order, k.EntityID())
			}
			byType[k.EntityID()] = append(byType[k.EntityID()], k)
		}
		for _, id := range order {
			selected, err := c.selectEntities(ctx, condition.Where(id, condition.Keys(byType[id]...)), 0)
			if err != nil {
				return err
			}
			entities = append(entities, selected...)
		}
		return nil
	})
	return entities, err
}

// SelectByValues returns the entities whose property pid equals one of
// values.
func (c *Connection) SelectByValues(ctx context.Context, entityID, pid string, values ...any) ([]*domain.Entity, error) {
	return c.Select(ctx, condition.Where(entityID, condition.ValuesIn(pid, values...)))
}

// Select returns the entities selected by sel with their references
// fetched to the configured depth. Selecting for update requires an open
// transaction.
func (c *Connection) Select(ctx context.Context, sel *condition.Select) ([]*domain.Entity, error) {
	if sel.ForUpdate && !c.IsTransactionOpen() {
		return nil, fmt.Errorf("%w: select for update of %s", relmap.ErrTxNotStarted, sel.EntityID)
	}
	var entities []*domain.Entity
	err := c.run(ctx, "select", []any{sel}, func(ctx context.Context) (err error) {
		entities, err = c.selectEntities(ctx, sel, 0)
		return err
	})
	return entities, err
}

// SelectValues returns the distinct non null values of the column pid in
// the rows matching cond, in ascending order.
func (c *Connection) SelectValues(ctx context.Context, entityID, pid string, cond condition.Condition) ([]any, error) {
	def, err := c.definition(entityID)
	if err != nil {
		return nil, err
	}
	p, ok := def.Property(pid)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", domain.ErrUnknownProperty, entityID, pid)
	}
	col, ok := p.(domain.Columnar)
	if !ok {
		return nil, fmt.Errorf("local: %s.%s is not a column", entityID, pid)
	}
	var values []any
	err = c.run(ctx, "selectValues", []any{entityID, pid, cond}, func(ctx context.Context) error {
		sel, err := c.evalQuery(ctx, condition.Where(entityID, condition.And(cond, condition.NotNull(pid))))
		if err != nil {
			return err
		}
		where, args, err := sel.Build(def, c.buildOptions()...)
		if err != nil {
			return err
		}
		query, qargs := c.builder().Select(col.Expression()).Distinct().
			From(dsql.Table(def.SelectTable())).
			Where(where, args...).
			OrderBy(col.Expression()).
			Query()
		err = c.conn.Query(ctx, query, func(rows dsql.ColumnScanner) error {
			for rows.Next() {
				var v any
				if err := rows.Scan(&v); err != nil {
					return err
				}
				cv, err := p.Type().Convert(v)
				if err != nil {
					return fmt.Errorf("local: %s.%s: %w", entityID, pid, err)
				}
				values = append(values, cv)
			}
			return rows.Err()
		}, qargs...)
		if err != nil {
			return relmap.NewQueryError(entityID, "values", err)
		}
		return nil
	})
	return values, err
}

// RowCount returns the number of rows of the entity type matching cond.
func (c *Connection) RowCount(ctx context.Context, entityID string, cond condition.Condition) (int, error) {
	def, err := c.definition(entityID)
	if err != nil {
		return 0, err
	}
	var n int64
	err = c.run(ctx, "rowCount", []any{entityID, cond}, func(ctx context.Context) error {
		sel, err := c.evalQuery(ctx, condition.Where(entityID, cond))
		if err != nil {
			return err
		}
		inner, args, err := c.selectQuery(def, sel, def.SelectableColumns(), false)
		if err != nil {
			return err
		}
		n, err = c.conn.QueryInt64(ctx, "SELECT COUNT(*) FROM ("+inner+") row_count", args...)
		if err != nil {
			return relmap.NewQueryError(entityID, "count", err)
		}
		return nil
	})
	return int(n), err
}

// SelectDependents returns, by entity id, the entities referencing the
// given ones through foreign keys that are not soft references.
func (c *Connection) SelectDependents(ctx context.Context, entities ...*domain.Entity) (map[string][]*domain.Entity, error) {
	dependents := make(map[string][]*domain.Entity)
	if len(entities) == 0 {
		return dependents, nil
	}
	err := c.run(ctx, "selectDependents", []any{entities}, func(ctx context.Context) error {
		for _, g := range groupByEntity(entities) {
			keys := domain.OriginalKeys(g.entities)
			for _, def := range c.dom.Definitions() {
				for _, fk := range def.ForeignKeysReferencing(g.def.ID()) {
					if fk.SoftReference() {
						continue
					}
					sel := condition.Where(def.ID(), condition.ValuesIn(fk.ID(), keyValues(keys)...))
					selected, err := c.selectEntities(ctx, sel, 0)
					if err != nil {
						return err
					}
					if len(selected) > 0 {
						dependents[def.ID()] = append(dependents[def.ID()], selected...)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dependents, nil
}

func keyValues(keys []*domain.Key) []any {
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = k
	}
	return values
}

// selectEntities evaluates the query policy, selects the rows of sel and
// fetches their references. depth is the reference level of sel.
func (c *Connection) selectEntities(ctx context.Context, sel *condition.Select, depth int) ([]*domain.Entity, error) {
	def, err := c.definition(sel.EntityID)
	if err != nil {
		return nil, err
	}
	sel, err = c.evalQuery(ctx, sel)
	if err != nil {
		return nil, err
	}
	if cached, ok := c.cached(ctx, def, sel, depth); ok {
		return cached, nil
	}
	entities, err := c.selectRows(ctx, def, sel)
	if err != nil {
		return nil, err
	}
	if !sel.ForUpdate && len(entities) > 0 {
		if err := c.fetchReferences(ctx, def, sel, entities, depth); err != nil {
			return nil, err
		}
	}
	c.store(ctx, def, sel, depth, entities)
	return entities, nil
}

// selectRows selects the rows of sel without fetching references.
func (c *Connection) selectRows(ctx context.Context, def *domain.Definition, sel *condition.Select) ([]*domain.Entity, error) {
	columns := def.SelectableColumns()
	query, args, err := c.selectQuery(def, sel, columns, true)
	if err != nil {
		return nil, err
	}
	qc := &relmap.QueryContext{Entity: def.ID()}
	for _, col := range columns {
		qc.AppendPropertyOnce(col.ID())
	}
	if sel.Limit > 0 {
		qc.Limit = &sel.Limit
	}
	if sel.Offset > 0 {
		qc.Offset = &sel.Offset
	}
	ctx = relmap.NewQueryContext(ctx, qc)
	var entities []*domain.Entity
	err = c.conn.Query(ctx, query, func(rows dsql.ColumnScanner) error {
		for (sel.FetchCount <= 0 || len(entities) < sel.FetchCount) && rows.Next() {
			e, err := scanEntity(def, columns, rows)
			if err != nil {
				return err
			}
			entities = append(entities, e)
		}
		return rows.Err()
	}, args...)
	if err != nil {
		return nil, relmap.NewQueryError(def.ID(), "select", err)
	}
	return entities, nil
}

// selectQuery returns the select statement of sel for the columns,
// without order by clause unless ordered is set.
func (c *Connection) selectQuery(def *domain.Definition, sel *condition.Select, columns []domain.Columnar, ordered bool) (string, []any, error) {
	where, args, err := sel.Build(def, c.buildOptions()...)
	if err != nil {
		return "", nil, err
	}
	b := c.builder().Select()
	if q, hasWhere := def.SelectQuery(); q != "" {
		b.FromQuery(q, hasWhere)
	} else {
		exprs := make([]string, len(columns))
		for i, col := range columns {
			exprs[i] = col.Expression()
		}
		b.Columns(exprs...).From(dsql.Table(def.SelectTable()))
	}
	b.Where(where, args...)
	if g := def.GroupBy(); g != "" {
		b.GroupBy(g)
	}
	if h := def.Having(); h != "" {
		b.Having(h)
	}
	order := sel.OrderBy
	if order == nil {
		order = def.OrderBy()
	}
	if ordered && order != nil {
		terms, err := order.Clause(def)
		if err != nil {
			return "", nil, err
		}
		b.OrderBy(terms...)
	}
	b.Limit(sel.Limit).Offset(sel.Offset)
	if sel.ForUpdate {
		b.ForUpdate(false)
	}
	query, qargs := b.Query()
	return query, qargs, nil
}

// scanEntity scans the current row into an entity of def.
func scanEntity(def *domain.Definition, columns []domain.Columnar, rows dsql.ColumnScanner) (*domain.Entity, error) {
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col.ID()] = values[i]
	}
	return domain.FromRow(def, row)
}

// fetchReferences selects the entities referenced by the foreign keys of
// def and sets them in the entities. A foreign key is followed while
// depth is below its fetch depth, or always when its fetch depth is
// negative or depth limiting is disabled.
func (c *Connection) fetchReferences(ctx context.Context, def *domain.Definition, sel *condition.Select, entities []*domain.Entity, depth int) error {
	for _, fk := range def.ForeignKeys() {
		limit := sel.FetchDepth(fk, c.dom)
		if c.limitFetchDepth && limit >= 0 && depth >= limit {
			continue
		}
		if depth >= maxFetchDepth {
			continue
		}
		keys := domain.ReferencedKeys(entities, fk.ID())
		if len(keys) == 0 {
			continue
		}
		foreign, err := c.definition(fk.ForeignEntity())
		if err != nil {
			return err
		}
		nested := condition.Where(foreign.ID(), condition.Keys(keys...))
		for _, ffk := range foreign.ForeignKeys() {
			nested.WithFetchDepth(ffk.ID(), limit)
		}
		referenced, err := c.selectEntities(ctx, nested, depth+1)
		if err != nil {
			return err
		}
		loaded := orderByKeys(keys, referenced)
		for _, e := range entities {
			key := e.ReferencedKey(fk.ID())
			if key == nil {
				continue
			}
			ref := loaded[key.Identity()]
			if ref == nil {
				ref = domain.EntityFromKey(key)
			}
			if err := e.SetReference(fk.ID(), ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// orderByKeys maps the entities by the identity of the requested keys.
// Keys without a selected entity map to nil.
func orderByKeys(keys []*domain.Key, entities []*domain.Entity) map[string]*domain.Entity {
	byKey := domain.MapByKey(entities)
	loaded := make(map[string]*domain.Entity, len(keys))
	for _, k := range keys {
		id := k.Identity()
		loaded[id] = byKey[id]
	}
	return loaded
}
