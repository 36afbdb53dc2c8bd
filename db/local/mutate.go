package local

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/dialect/sql/sqlgraph"
	"github.com/syssam/relmap/domain"
)

// ErrNoValues is returned when inserting or updating a row without
// values to write.
var ErrNoValues = errors.New("local: no values to write")

// Insert inserts the entities and returns their primary keys, in the
// order the entities were given per entity type.
func (c *Connection) Insert(ctx context.Context, entities ...*domain.Entity) ([]*domain.Key, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	groups := groupByEntity(entities)
	if err := c.checkWritable(entityIDs(groups)...); err != nil {
		return nil, err
	}
	var keys []*domain.Key
	err := c.run(ctx, "insert", []any{entities}, func(ctx context.Context) error {
		for _, g := range groups {
			m := &Mutation{op: relmap.OpInsert, entityID: g.def.ID(), entities: g.entities}
			err := c.mutate(ctx, m, func(ctx context.Context) error {
				for _, e := range g.entities {
					if err := c.insert(ctx, g.def, e); err != nil {
						return err
					}
					keys = append(keys, e.Key())
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, entityIDs(groups)...)
	return keys, nil
}

func (c *Connection) insert(ctx context.Context, def *domain.Definition, e *domain.Entity) error {
	if c.validate {
		if err := def.Validator().Validate(e); err != nil {
			return err
		}
	}
	kg := def.KeyGenerator()
	if err := kg.BeforeInsert(ctx, e, c.conn); err != nil {
		return relmap.NewMutationError(def.ID(), "insert", err)
	}
	ins := c.builder().Insert(def.Table())
	n := 0
	for _, col := range def.WritableColumns(true, true) {
		if e.Contains(col.ID()) {
			ins.Set(col.ColumnName(), driverValue(e.Get(col.ID())))
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("%w: insert into %s", ErrNoValues, def.ID())
	}
	query, args := ins.Query()
	res, err := c.conn.Execute(ctx, query, args...)
	if err != nil {
		return relmap.NewMutationError(def.ID(), "insert", sqlgraph.Translate(err))
	}
	if err := kg.AfterInsert(ctx, e, c.conn, res); err != nil {
		return relmap.NewMutationError(def.ID(), "insert", err)
	}
	return nil
}

// Update updates the modified columns of the entities, checking with
// optimistic locking that the rows were not changed since they were
// selected, and returns the entities as selected after the update.
func (c *Connection) Update(ctx context.Context, entities ...*domain.Entity) ([]*domain.Entity, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	groups := groupByEntity(entities)
	if err := c.checkWritable(entityIDs(groups)...); err != nil {
		return nil, err
	}
	var updated []*domain.Entity
	err := c.run(ctx, "update", []any{entities}, func(ctx context.Context) error {
		for _, g := range groups {
			m := &Mutation{op: relmap.OpUpdate, entityID: g.def.ID(), entities: g.entities}
			err := c.mutate(ctx, m, func(ctx context.Context) error {
				selected, err := c.update(ctx, g)
				updated = append(updated, selected...)
				return err
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, entityIDs(groups)...)
	return updated, nil
}

func (c *Connection) update(ctx context.Context, g *group) ([]*domain.Entity, error) {
	def := g.def
	if c.optimisticLocking {
		if err := c.lock(ctx, g); err != nil {
			return nil, err
		}
	}
	columns := def.WritableColumns(def.KeyGenerator().Manual(), false)
	for _, e := range g.entities {
		if c.validate {
			if err := def.Validator().Validate(e); err != nil {
				return nil, err
			}
		}
		upd := c.builder().Update(def.Table())
		for _, col := range columns {
			if e.Contains(col.ID()) && e.Modified(col.ID()) {
				upd.Set(col.ColumnName(), driverValue(e.Get(col.ID())))
			}
		}
		if upd.Empty() {
			return nil, fmt.Errorf("%w: update of %s %s", ErrNoValues, def.ID(), e.OriginalKey())
		}
		where, args, err := condition.Build(def, condition.Key(e.OriginalKey()), c.buildOptions()...)
		if err != nil {
			return nil, err
		}
		query, qargs := upd.Where(where, args...).Query()
		res, err := c.conn.Execute(ctx, query, qargs...)
		if err != nil {
			return nil, relmap.NewMutationError(def.ID(), "update", sqlgraph.Translate(err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, relmap.NewMutationError(def.ID(), "update", fmt.Errorf("%w: %s", relmap.ErrNoRowsAffected, e.OriginalKey()))
		}
	}
	selected, err := c.selectEntities(ctx, &condition.Select{EntityID: def.ID(), Where: condition.Keys(domain.Keys(g.entities)...)}, 0)
	if err != nil {
		return nil, err
	}
	if len(selected) != len(g.entities) {
		return nil, relmap.NewMutationError(def.ID(), "update",
			fmt.Errorf("%w: %d of %d updated rows selected", relmap.ErrNoRowsAffected, len(selected), len(g.entities)))
	}
	return selected, nil
}

// lock selects the rows of the entities for update and compares them
// with the original values of the entities.
func (c *Connection) lock(ctx context.Context, g *group) error {
	def := g.def
	sel := &condition.Select{EntityID: def.ID(), Where: condition.Keys(domain.OriginalKeys(g.entities)...), ForUpdate: true}
	current, err := c.selectRows(ctx, def, sel)
	if err != nil {
		return err
	}
	byKey := domain.MapByKey(current)
	for _, e := range g.entities {
		key := e.OriginalKey()
		row, ok := byKey[key.Identity()]
		if !ok {
			return &relmap.RecordModifiedError{Entity: def.ID(), Key: key.String()}
		}
		if modified := domain.ModifiedColumns(e, row); len(modified) > 0 {
			return &relmap.RecordModifiedError{Entity: def.ID(), Key: key.String(), Modified: modified}
		}
	}
	return nil
}

// UpdateWhere sets the given values in the rows of the entity type
// matching cond. The values are keyed by property id and must belong to
// updatable columns.
func (c *Connection) UpdateWhere(ctx context.Context, entityID string, cond condition.Condition, values map[string]any) (int, error) {
	if err := c.checkWritable(entityID); err != nil {
		return 0, err
	}
	def, err := c.definition(entityID)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: update of %s", ErrNoValues, entityID)
	}
	upd := c.builder().Update(def.Table())
	for _, pid := range slices.Sorted(maps.Keys(values)) {
		p, ok := def.Property(pid)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", domain.ErrUnknownProperty, entityID, pid)
		}
		col, ok := domain.AsColumn(p)
		if !ok || !col.Writable() {
			return 0, fmt.Errorf("local: %s.%s is not an updatable column", entityID, pid)
		}
		v, err := p.Type().Convert(values[pid])
		if err != nil {
			return 0, fmt.Errorf("local: %s.%s: %w", entityID, pid, err)
		}
		upd.Set(col.ColumnName(), driverValue(v))
	}
	var n int
	err = c.run(ctx, "updateWhere", []any{entityID, cond, values}, func(ctx context.Context) error {
		m := &Mutation{op: relmap.OpUpdate, entityID: entityID, cond: cond, values: values}
		return c.mutate(ctx, m, func(ctx context.Context) error {
			where, args, err := condition.Build(def, cond, c.buildOptions()...)
			if err != nil {
				return err
			}
			query, qargs := upd.Where(where, args...).Query()
			n, err = c.exec(ctx, def, "update", query, qargs)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, entityID)
	return n, nil
}

// Delete deletes the rows of the entity type matching cond, all rows
// when cond is nil.
func (c *Connection) Delete(ctx context.Context, entityID string, cond condition.Condition) (int, error) {
	if err := c.checkWritable(entityID); err != nil {
		return 0, err
	}
	def, err := c.definition(entityID)
	if err != nil {
		return 0, err
	}
	var n int
	err = c.run(ctx, "delete", []any{entityID, cond}, func(ctx context.Context) error {
		m := &Mutation{op: relmap.OpDelete, entityID: entityID, cond: cond}
		return c.mutate(ctx, m, func(ctx context.Context) error {
			n, err = c.delete(ctx, def, cond)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, entityID)
	return n, nil
}

// DeleteKeys deletes the rows with the given keys. Deleting fewer rows
// than there are keys rolls the deletion back.
func (c *Connection) DeleteKeys(ctx context.Context, keys ...*domain.Key) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var (
		order  []string
		byType = make(map[string][]*domain.Key)
	)
	for _, k := range keys {
		if _, ok := byType[k.EntityID()]; !ok {
			order = append(order, k.EntityID())
		}
		byType[k.EntityID()] = append(byType[k.EntityID()], k)
	}
	if err := c.checkWritable(order...); err != nil {
		return 0, err
	}
	var total int
	err := c.run(ctx, "deleteKeys", []any{keys}, func(ctx context.Context) error {
		for _, id := range order {
			def, err := c.definition(id)
			if err != nil {
				return err
			}
			typed := byType[id]
			m := &Mutation{op: relmap.OpDelete, entityID: id, keys: typed}
			err = c.mutate(ctx, m, func(ctx context.Context) error {
				n, err := c.delete(ctx, def, condition.Keys(typed...))
				if err != nil {
					return err
				}
				if n != len(typed) {
					return relmap.NewMutationError(id, "delete",
						fmt.Errorf("%w: %d of %d rows deleted", relmap.ErrNoRowsAffected, n, len(typed)))
				}
				total += n
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, order...)
	return total, nil
}

func (c *Connection) delete(ctx context.Context, def *domain.Definition, cond condition.Condition) (int, error) {
	where, args, err := condition.Build(def, cond, c.buildOptions()...)
	if err != nil {
		return 0, err
	}
	query, qargs := c.builder().Delete(def.Table()).Where(where, args...).Query()
	return c.exec(ctx, def, "delete", query, qargs)
}

// exec runs a statement and returns the number of affected rows.
func (c *Connection) exec(ctx context.Context, def *domain.Definition, op, query string, args []any) (int, error) {
	res, err := c.conn.Execute(ctx, query, args...)
	if err != nil {
		return 0, relmap.NewMutationError(def.ID(), op, sqlgraph.Translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, relmap.NewMutationError(def.ID(), op, err)
	}
	return int(n), nil
}

func (c *Connection) buildOptions() []condition.BuildOption {
	return []condition.BuildOption{condition.WithFeatures(c.conn.Features())}
}
