package condition

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/syssam/relmap/domain"
)

// Select describes an entity query.
type Select struct {
	EntityID string
	Where    Condition
	OrderBy  *domain.OrderBy

	// Limit and Offset page the result, 0 for none.
	Limit  int
	Offset int

	// ForUpdate locks the selected rows.
	ForUpdate bool

	// FetchDepths overrides the fetch depth of foreign keys by id.
	FetchDepths map[string]int

	// MaxFetchDepth caps the fetch depth of all foreign keys when set.
	MaxFetchDepth *int

	// FetchCount is the maximum number of rows read, 0 or less for all.
	FetchCount int
}

// All returns a query selecting all rows of the entity.
func All(entityID string) *Select { return &Select{EntityID: entityID} }

// Where returns a query selecting the rows of the entity matching cond.
func Where(entityID string, cond Condition) *Select {
	return &Select{EntityID: entityID, Where: cond}
}

// WithFetchDepth sets the fetch depth of the foreign key fkID.
func (s *Select) WithFetchDepth(fkID string, depth int) *Select {
	if s.FetchDepths == nil {
		s.FetchDepths = make(map[string]int)
	}
	s.FetchDepths[fkID] = depth
	return s
}

// WithMaxFetchDepth caps the fetch depth of all foreign keys.
func (s *Select) WithMaxFetchDepth(depth int) *Select {
	s.MaxFetchDepth = &depth
	return s
}

// FetchDepth returns the number of reference levels fetched through fk,
// given its domain default.
func (s *Select) FetchDepth(fk *domain.ForeignKeyProperty, d *domain.Domain) int {
	if depth, ok := s.FetchDepths[fk.ID()]; ok {
		return depth
	}
	depth := 1
	if d != nil {
		depth = d.FetchDepth(fk)
	} else if fk.FetchDepth() >= 0 {
		depth = fk.FetchDepth()
	}
	if s.MaxFetchDepth != nil && depth > *s.MaxFetchDepth {
		return *s.MaxFetchDepth
	}
	return depth
}

// Build returns the where clause of the query for def.
func (s *Select) Build(def *domain.Definition, opts ...BuildOption) (string, []any, error) {
	if def.ID() != s.EntityID {
		return "", nil, fmt.Errorf("%w: %s query for %s", ErrEntityMismatch, s.EntityID, def.ID())
	}
	return Build(def, s.Where, opts...)
}

// String returns a description of the query, usable as a cache key.
func (s *Select) String() string {
	var sb strings.Builder
	sb.WriteString(s.EntityID)
	if s.Where != nil {
		sb.WriteString(" where ")
		sb.WriteString(s.Where.String())
	}
	if s.OrderBy != nil {
		sb.WriteString(" order by ")
		sb.WriteString(s.OrderBy.String())
	}
	if s.Limit > 0 {
		fmt.Fprintf(&sb, " limit %d", s.Limit)
	}
	if s.Offset > 0 {
		fmt.Fprintf(&sb, " offset %d", s.Offset)
	}
	if s.ForUpdate {
		sb.WriteString(" for update")
	}
	for _, fk := range slices.Sorted(maps.Keys(s.FetchDepths)) {
		fmt.Fprintf(&sb, " depth %s=%d", fk, s.FetchDepths[fk])
	}
	if s.MaxFetchDepth != nil {
		fmt.Fprintf(&sb, " max depth %d", *s.MaxFetchDepth)
	}
	if s.FetchCount > 0 {
		fmt.Fprintf(&sb, " fetch %d", s.FetchCount)
	}
	return sb.String()
}
