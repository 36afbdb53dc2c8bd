// Package relmap holds the types shared by the relmap packages: operation
// kinds, the query and mutation views consumed by privacy policies and
// hooks, sentinel and typed errors, and the cache contract.
package relmap

import (
	"context"
	"slices"
)

// Op represents the operation of a mutation or query.
type Op uint

// Operations. Each value is a single bit so that they can be combined.
const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpDelete
	OpSelect
)

// Is reports whether o matches the given operation.
func (i Op) Is(o Op) bool { return i&o != 0 }

// String returns the operation name.
func (i Op) String() string {
	switch i {
	case OpInsert:
		return "OpInsert"
	case OpUpdate:
		return "OpUpdate"
	case OpDelete:
		return "OpDelete"
	case OpSelect:
		return "OpSelect"
	default:
		return "Op(" + opBits(i) + ")"
	}
}

func opBits(o Op) string {
	var names []string
	for _, op := range []Op{OpInsert, OpUpdate, OpDelete, OpSelect} {
		if o.Is(op) {
			names = append(names, op.String())
		}
	}
	if len(names) == 0 {
		return "0"
	}
	s := names[0]
	for _, n := range names[1:] {
		s += "|" + n
	}
	return s
}

// Query is the view of a select given to privacy rules and interceptors.
type Query interface {
	// EntityID returns the id of the entity type being selected.
	EntityID() string
}

// Mutation is the view of an insert, update or delete given to privacy
// rules and hooks.
type Mutation interface {
	// Op returns the mutation operation.
	Op() Op
	// EntityID returns the id of the entity type being mutated.
	EntityID() string
	// Field returns the value of the given property of the first
	// mutated entity, and false if it holds no value.
	Field(name string) (any, bool)
	// Len returns the number of entities in the mutation.
	Len() int
}

// Value is the result of a mutation.
type Value any

// Mutator wraps the Mutate method.
type Mutator interface {
	Mutate(context.Context, Mutation) (Value, error)
}

// MutateFunc adapts an ordinary function to the Mutator interface.
type MutateFunc func(context.Context, Mutation) (Value, error)

// Mutate calls f(ctx, m).
func (f MutateFunc) Mutate(ctx context.Context, m Mutation) (Value, error) {
	return f(ctx, m)
}

// Hook defines the mutation middleware.
type Hook func(Mutator) Mutator

// Policy evaluates queries and mutations before they reach the database.
type Policy interface {
	EvalMutation(context.Context, Mutation) error
	EvalQuery(context.Context, Query) error
}

// QueryContext carries information about the running select.
type QueryContext struct {
	Entity     string
	Properties []string
	Limit      *int
	Offset     *int
}

type queryCtxKey struct{}

// NewQueryContext returns a new context with the given QueryContext attached.
func NewQueryContext(parent context.Context, c *QueryContext) context.Context {
	return context.WithValue(parent, queryCtxKey{}, c)
}

// QueryFromContext returns the QueryContext value stored in ctx, if any.
func QueryFromContext(ctx context.Context) *QueryContext {
	c, _ := ctx.Value(queryCtxKey{}).(*QueryContext)
	return c
}

// Clone returns a deep copy of the query context.
func (q *QueryContext) Clone() *QueryContext {
	c := &QueryContext{
		Entity:     q.Entity,
		Properties: slices.Clone(q.Properties),
	}
	if q.Limit != nil {
		v := *q.Limit
		c.Limit = &v
	}
	if q.Offset != nil {
		v := *q.Offset
		c.Offset = &v
	}
	return c
}

// AppendPropertyOnce adds the given property to the list if it is not
// already present.
func (q *QueryContext) AppendPropertyOnce(p string) *QueryContext {
	if !slices.Contains(q.Properties, p) {
		q.Properties = append(q.Properties, p)
	}
	return q
}
