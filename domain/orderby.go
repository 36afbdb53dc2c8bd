package domain

import (
	"fmt"
	"strings"
)

// OrderTerm orders by one property.
type OrderTerm struct {
	Property   string
	Descending bool
}

// OrderBy is an ordered list of order terms.
type OrderBy struct {
	terms []OrderTerm
}

// Ascending returns an order by the given properties, ascending.
func Ascending(pids ...string) *OrderBy { return new(OrderBy).Ascending(pids...) }

// Descending returns an order by the given properties, descending.
func Descending(pids ...string) *OrderBy { return new(OrderBy).Descending(pids...) }

// Ascending appends ascending terms.
func (o *OrderBy) Ascending(pids ...string) *OrderBy {
	for _, pid := range pids {
		o.terms = append(o.terms, OrderTerm{Property: pid})
	}
	return o
}

// Descending appends descending terms.
func (o *OrderBy) Descending(pids ...string) *OrderBy {
	for _, pid := range pids {
		o.terms = append(o.terms, OrderTerm{Property: pid, Descending: true})
	}
	return o
}

// Terms returns the order terms.
func (o *OrderBy) Terms() []OrderTerm { return o.terms }

// Clause returns the order by terms of def as SQL expressions. Foreign
// keys order by their reference columns.
func (o *OrderBy) Clause(def *Definition) ([]string, error) {
	var terms []string
	for _, t := range o.terms {
		p, ok := def.byID[t.Property]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, def.id, t.Property)
		}
		var exprs []string
		switch p := p.(type) {
		case Columnar:
			exprs = append(exprs, p.Expression())
		case *ForeignKeyProperty:
			for _, ref := range p.references {
				exprs = append(exprs, ref.Expression())
			}
		default:
			return nil, fmt.Errorf("%w: cannot order %s by %s", ErrInvalidValue, def.id, t.Property)
		}
		for _, expr := range exprs {
			if t.Descending {
				expr += " DESC"
			}
			terms = append(terms, expr)
		}
	}
	return terms, nil
}

// String returns the terms as "a, b DESC".
func (o *OrderBy) String() string {
	var b strings.Builder
	for i, t := range o.terms {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Property)
		if t.Descending {
			b.WriteString(" DESC")
		}
	}
	return b.String()
}

// Compare orders a and b by the terms, comparing values with
// CompareValues.
func (o *OrderBy) Compare(a, b *Entity) int {
	for _, t := range o.terms {
		c := CompareValues(a.Get(t.Property), b.Get(t.Property))
		if t.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
