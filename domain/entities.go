package domain

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Keys returns the keys of the entities.
func Keys(entities []*Entity) []*Key {
	keys := make([]*Key, len(entities))
	for i, e := range entities {
		keys[i] = e.Key()
	}
	return keys
}

// OriginalKeys returns the original keys of the entities.
func OriginalKeys(entities []*Entity) []*Key {
	keys := make([]*Key, len(entities))
	for i, e := range entities {
		keys[i] = e.OriginalKey()
	}
	return keys
}

// MapByKey maps the entities by key identity.
func MapByKey(entities []*Entity) map[string]*Entity {
	m := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		m[e.Key().Identity()] = e
	}
	return m
}

// MapByEntityID groups the entities by entity id.
func MapByEntityID(entities []*Entity) map[string][]*Entity {
	m := make(map[string][]*Entity)
	for _, e := range entities {
		m[e.def.id] = append(m[e.def.id], e)
	}
	return m
}

// MapKeysByEntityID groups the keys by entity id.
func MapKeysByEntityID(keys []*Key) map[string][]*Key {
	m := make(map[string][]*Key)
	for _, k := range keys {
		m[k.def.id] = append(m[k.def.id], k)
	}
	return m
}

// ValuesOf returns the non nil values of pid in the entities.
func ValuesOf(pid string, entities []*Entity) []any {
	var values []any
	for _, e := range entities {
		if v := e.Get(pid); v != nil {
			values = append(values, v)
		}
	}
	return values
}

// DistinctValues returns the distinct non nil values of pid in the
// entities, in order of appearance.
func DistinctValues(pid string, entities []*Entity) []any {
	seen := make(map[string]bool)
	var values []any
	for _, e := range entities {
		v := e.Get(pid)
		if v == nil {
			continue
		}
		if id := identity(v); !seen[id] {
			seen[id] = true
			values = append(values, v)
		}
	}
	return values
}

// IsAnyModified reports whether one of the entities is modified.
func IsAnyModified(entities []*Entity) bool {
	for _, e := range entities {
		if e.IsModified() {
			return true
		}
	}
	return false
}

// ModifiedColumns returns the ids of the selectable columns whose
// original value in e differs from the value in current. Columns e holds
// no value for are skipped.
func ModifiedColumns(e, current *Entity) []string {
	var modified []string
	for _, c := range e.def.columns {
		pid := c.ID()
		if !c.columnProperty().selectable || !e.Contains(pid) {
			continue
		}
		if !valuesEqual(e.Original(pid), current.Get(pid)) {
			modified = append(modified, pid)
		}
	}
	return modified
}

// CopyAll returns deep copies of the entities.
func CopyAll(entities []*Entity) []*Entity {
	copies := make([]*Entity, len(entities))
	for i, e := range entities {
		copies[i] = e.Copy()
	}
	return copies
}

// ReferencedKeys returns the distinct non null keys referenced by fkID
// in the entities.
func ReferencedKeys(entities []*Entity, fkID string) []*Key {
	seen := make(map[string]bool)
	var keys []*Key
	for _, e := range entities {
		k := e.ReferencedKey(fkID)
		if k == nil {
			continue
		}
		if id := k.Identity(); !seen[id] {
			seen[id] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// CompareValues orders two property values. Nil orders first, entities
// order by their definition, and values of unrelated types by their
// string forms.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch a := a.(type) {
	case string:
		if b, ok := b.(string); ok {
			return strings.Compare(a, b)
		}
	case float64:
		if b, ok := b.(float64); ok {
			return cmp.Compare(a, b)
		}
	case decimal.Decimal:
		if b, ok := b.(decimal.Decimal); ok {
			return a.Cmp(b)
		}
	case time.Time:
		if b, ok := b.(time.Time); ok {
			return a.Compare(b)
		}
	case bool:
		if b, ok := b.(bool); ok {
			switch {
			case a == b:
				return 0
			case !a:
				return -1
			}
			return 1
		}
	case *Entity:
		if b, ok := b.(*Entity); ok {
			return a.Compare(b)
		}
	}
	if x, err := toInt64(a); err == nil {
		if y, err := toInt64(b); err == nil {
			return cmp.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
