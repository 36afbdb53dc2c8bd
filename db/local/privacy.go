package local

import (
	"context"
	"errors"
	"slices"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/domain"
	"github.com/syssam/relmap/privacy"
)

// Mutation is the view of an insert, update or delete given to privacy
// rules and hooks.
type Mutation struct {
	op       relmap.Op
	entityID string
	entities []*domain.Entity
	keys     []*domain.Key
	cond     condition.Condition
	values   map[string]any
}

var _ relmap.Mutation = (*Mutation)(nil)

// Op returns the mutation operation.
func (m *Mutation) Op() relmap.Op { return m.op }

// EntityID returns the id of the mutated entity type.
func (m *Mutation) EntityID() string { return m.entityID }

// Entities returns the inserted or updated entities.
func (m *Mutation) Entities() []*domain.Entity { return m.entities }

// Keys returns the keys of the deleted rows, when deleting by key.
func (m *Mutation) Keys() []*domain.Key { return m.keys }

// Condition returns the condition of an update or delete by condition.
func (m *Mutation) Condition() condition.Condition { return m.cond }

// Values returns the values set by an update by condition.
func (m *Mutation) Values() map[string]any { return m.values }

// Len returns the number of mutated entities or keys.
func (m *Mutation) Len() int { return max(len(m.entities), len(m.keys)) }

// Field returns the value of the given property of the first entity or
// key, or the value set by an update by condition.
func (m *Mutation) Field(name string) (any, bool) {
	switch {
	case len(m.entities) > 0:
		e := m.entities[0]
		if !e.Contains(name) {
			return nil, false
		}
		return e.Get(name), true
	case len(m.keys) > 0:
		k := m.keys[0]
		if !slices.ContainsFunc(k.Properties(), func(p *domain.ColumnProperty) bool { return p.ID() == name }) {
			return nil, false
		}
		return k.Value(name), true
	default:
		v, ok := m.values[name]
		return v, ok
	}
}

// query is the view of a select given to privacy rules. Filter rules
// narrow the select with additional conditions.
type query struct {
	entityID string
	conds    []condition.Condition
}

func (q *query) EntityID() string                   { return q.entityID }
func (q *query) Filter() privacy.Filter             { return q }
func (q *query) Where(conds ...condition.Condition) { q.conds = append(q.conds, conds...) }

// evalQuery evaluates the query policy for sel and returns sel narrowed
// by the conditions added by filter rules.
func (c *Connection) evalQuery(ctx context.Context, sel *condition.Select) (*condition.Select, error) {
	if c.policy == nil {
		return sel, nil
	}
	q := &query{entityID: sel.EntityID}
	if err := c.policy.EvalQuery(ctx, q); err != nil {
		return nil, denied(sel.EntityID, "query", err)
	}
	if len(q.conds) == 0 {
		return sel, nil
	}
	narrowed := *sel
	narrowed.Where = condition.And(append([]condition.Condition{sel.Where}, q.conds...)...)
	return &narrowed, nil
}

// mutate runs fn through the hooks after evaluating the mutation policy.
func (c *Connection) mutate(ctx context.Context, m *Mutation, fn func(context.Context) error) error {
	var mut relmap.Mutator = relmap.MutateFunc(func(ctx context.Context, rm relmap.Mutation) (relmap.Value, error) {
		if c.policy != nil {
			if err := c.policy.EvalMutation(ctx, rm); err != nil {
				return nil, denied(rm.EntityID(), "mutation", err)
			}
		}
		return nil, fn(ctx)
	})
	for i := len(c.hooks) - 1; i >= 0; i-- {
		mut = c.hooks[i](mut)
	}
	_, err := mut.Mutate(ctx, m)
	return err
}

// denied turns a deny decision into a privacy error.
func denied(entityID, op string, err error) error {
	if errors.Is(err, privacy.Deny) {
		return relmap.NewPrivacyError(entityID, op, err.Error())
	}
	return err
}
