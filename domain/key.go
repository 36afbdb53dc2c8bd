package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Key holds the primary key values of an entity, in key order.
type Key struct {
	def    *Definition
	values []any
}

// NewKey returns a key of def holding values in key order. Values are
// converted to the types of the key columns.
func NewKey(def *Definition, values ...any) (*Key, error) {
	if len(values) != len(def.primaryKey) {
		return nil, fmt.Errorf("%w: %s has %d key columns, got %d values", ErrInvalidValue, def.id, len(def.primaryKey), len(values))
	}
	k := &Key{def: def, values: make([]any, len(values))}
	for i, v := range values {
		cv, err := def.primaryKey[i].typ.Convert(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, def.id, def.primaryKey[i].id, err)
		}
		k.values[i] = cv
	}
	return k, nil
}

// MustKey is like NewKey but panics on error.
func MustKey(def *Definition, values ...any) *Key {
	k, err := NewKey(def, values...)
	if err != nil {
		panic(err)
	}
	return k
}

func emptyKey(def *Definition) *Key {
	return &Key{def: def, values: make([]any, len(def.primaryKey))}
}

// Definition returns the definition of the keyed entity.
func (k *Key) Definition() *Definition { return k.def }

// EntityID returns the id of the keyed entity.
func (k *Key) EntityID() string { return k.def.id }

// Properties returns the key columns.
func (k *Key) Properties() []*ColumnProperty { return k.def.primaryKey }

// Len returns the number of key columns.
func (k *Key) Len() int { return len(k.values) }

// Composite reports whether the key has more than one column.
func (k *Key) Composite() bool { return len(k.values) > 1 }

// SingleInteger reports whether the key is a single integer column.
func (k *Key) SingleInteger() bool {
	return !k.Composite() && k.def.primaryKey[0].typ.Integer()
}

// Value returns the value of the given key column.
func (k *Key) Value(pid string) any {
	for i, p := range k.def.primaryKey {
		if p.id == pid {
			return k.values[i]
		}
	}
	return nil
}

// Values returns the key values in key order.
func (k *Key) Values() []any { return append([]any(nil), k.values...) }

// FirstValue returns the value of the first key column.
func (k *Key) FirstValue() any { return k.values[0] }

// With returns a copy of the key with the given column set to v.
func (k *Key) With(pid string, v any) (*Key, error) {
	for i, p := range k.def.primaryKey {
		if p.id != pid {
			continue
		}
		cv, err := p.typ.Convert(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, k.def.id, pid, err)
		}
		c := k.copy()
		c.values[i] = cv
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s.%s is not a key column", ErrUnknownProperty, k.def.id, pid)
}

func (k *Key) copy() *Key {
	return &Key{def: k.def, values: k.Values()}
}

// IsNull reports whether the key identifies no row. A single column key
// is null when its value is nil. A composite key is null when a non
// nullable column is nil, or all columns are.
func (k *Key) IsNull() bool {
	if k == nil {
		return true
	}
	if !k.Composite() {
		return k.values[0] == nil
	}
	all := true
	for i, v := range k.values {
		if v != nil {
			all = false
		} else if !k.def.primaryKey[i].nullable {
			return true
		}
	}
	return all
}

// Hash returns the key hash. The hash of a single integer key is its
// value, the hash of other keys the sum of their value hashes, and the
// hash of a null key 0.
func (k *Key) Hash() int64 {
	if k.IsNull() {
		return 0
	}
	if k.SingleInteger() {
		n, _ := toInt64(k.values[0])
		return n
	}
	var h int64
	for _, v := range k.values {
		if v != nil {
			h += valueHash(v)
		}
	}
	return h
}

func valueHash(v any) int64 {
	if n, err := toInt64(v); err == nil {
		return n
	}
	f := fnv.New64a()
	f.Write([]byte(identity(v)))
	return int64(f.Sum64())
}

// Equal reports whether k and o key the same row: same entity, and
// equal values. Null keys equal no key.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return false
	}
	if k.def.id != o.def.id || len(k.values) != len(o.values) || k.IsNull() || o.IsNull() {
		return false
	}
	for i, v := range k.values {
		if !valuesEqual(v, o.values[i]) {
			return false
		}
	}
	return true
}

// String returns the key as "id:value,id:value".
func (k *Key) String() string {
	var b strings.Builder
	for i, p := range k.def.primaryKey {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.id)
		b.WriteByte(':')
		if k.values[i] == nil {
			b.WriteString("null")
		} else {
			fmt.Fprint(&b, k.values[i])
		}
	}
	return b.String()
}

// Identity returns a string identifying the key, usable as a map key.
func (k *Key) Identity() string {
	var b strings.Builder
	b.WriteString(k.def.id)
	for _, v := range k.values {
		b.WriteByte(0)
		b.WriteString(identity(v))
	}
	return b.String()
}

func identity(v any) string {
	switch v := v.(type) {
	case nil:
		return "\x01"
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return hex.EncodeToString(v)
	case *Entity:
		return v.Key().Identity()
	default:
		return fmt.Sprint(v)
	}
}

// valuesEqual compares two property values.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a := a.(type) {
	case []byte:
		b, ok := b.([]byte)
		return ok && bytes.Equal(a, b)
	case decimal.Decimal:
		b, ok := b.(decimal.Decimal)
		return ok && a.Equal(b)
	case time.Time:
		b, ok := b.(time.Time)
		return ok && a.Equal(b)
	case *Entity:
		b, ok := b.(*Entity)
		return ok && (a == b || a.Key().Equal(b.Key()))
	case *Key:
		b, ok := b.(*Key)
		return ok && a.Equal(b)
	}
	return a == b
}
