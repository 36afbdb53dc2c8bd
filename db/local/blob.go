package local

import (
	"context"
	"fmt"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/domain"
)

// ReadBlob returns the value of the blob column pid in the row with key.
func (c *Connection) ReadBlob(ctx context.Context, key *domain.Key, pid string) ([]byte, error) {
	def, col, err := c.blobColumn(key, pid)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = c.run(ctx, "readBlob", []any{key, pid}, func(ctx context.Context) error {
		if _, err := c.evalQuery(ctx, condition.Where(def.ID(), condition.Key(key))); err != nil {
			return err
		}
		where, args, err := condition.Build(def, condition.Key(key), c.buildOptions()...)
		if err != nil {
			return err
		}
		data, err = c.conn.ReadBlob(ctx, def.Table(), col.ColumnName(), where, args...)
		return err
	})
	return data, err
}

// WriteBlob sets the blob column pid of the row with key to data.
func (c *Connection) WriteBlob(ctx context.Context, key *domain.Key, pid string, data []byte) error {
	def, col, err := c.blobColumn(key, pid)
	if err != nil {
		return err
	}
	if err := c.checkWritable(def.ID()); err != nil {
		return err
	}
	err = c.run(ctx, "writeBlob", []any{key, pid, len(data)}, func(ctx context.Context) error {
		m := &Mutation{op: relmap.OpUpdate, entityID: def.ID(), keys: []*domain.Key{key}, values: map[string]any{pid: data}}
		return c.mutate(ctx, m, func(ctx context.Context) error {
			where, args, err := condition.Build(def, condition.Key(key), c.buildOptions()...)
			if err != nil {
				return err
			}
			return c.conn.WriteBlob(ctx, def.Table(), col.ColumnName(), where, data, args...)
		})
	})
	if err != nil {
		return err
	}
	c.invalidate(ctx, def.ID())
	return nil
}

func (c *Connection) blobColumn(key *domain.Key, pid string) (*domain.Definition, domain.Columnar, error) {
	def, err := c.definition(key.EntityID())
	if err != nil {
		return nil, nil, err
	}
	p, ok := def.Property(pid)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s.%s", domain.ErrUnknownProperty, def.ID(), pid)
	}
	col, ok := p.(domain.Columnar)
	if !ok || p.Type() != domain.TypeBlob {
		return nil, nil, fmt.Errorf("local: %s.%s is not a blob column", def.ID(), pid)
	}
	return def, col, nil
}
