package domain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// ValueChange describes a change of one entity value.
type ValueChange struct {
	Property string
	Value    any
	Previous any

	// Initial is set when the property had no value before.
	Initial bool
}

// ValueListener is notified of value changes.
type ValueListener func(e *Entity, c ValueChange)

// Entity is a row of an entity type: a map of values keyed by property
// id, with the original values of modified properties. An Entity is not
// safe for concurrent use.
type Entity struct {
	def       *Definition
	values    map[string]any
	originals map[string]any
	key       *Key
	refKeys   map[string]*Key
	str       *string
	listeners []*ValueListener
}

// NewEntity returns an empty entity of the given type.
func NewEntity(def *Definition) *Entity {
	return &Entity{def: def, values: make(map[string]any)}
}

// EntityFromKey returns an entity holding the values of key.
func EntityFromKey(key *Key) *Entity {
	e := NewEntity(key.def)
	for i, p := range key.def.primaryKey {
		e.values[p.id] = key.values[i]
	}
	return e
}

// Definition returns the entity definition.
func (e *Entity) Definition() *Definition { return e.def }

// EntityID returns the entity type id.
func (e *Entity) EntityID() string { return e.def.id }

// Is reports whether the entity is of the given type.
func (e *Entity) Is(entityID string) bool { return e.def.id == entityID }

func (e *Entity) property(pid string) (Property, error) {
	p, ok := e.def.byID[pid]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.def.id, pid)
	}
	return p, nil
}

// Get returns the value of the given property. Derived values are
// computed from their sources. Unknown properties have no value.
func (e *Entity) Get(pid string) any {
	if d, ok := e.def.byID[pid].(*DerivedProperty); ok {
		return e.derivedValue(d)
	}
	return e.values[pid]
}

// Value returns the value of the given property as a T.
func Value[T any](e *Entity, pid string) (T, bool) {
	v, ok := e.Get(pid).(T)
	return v, ok
}

func (e *Entity) derivedValue(d *DerivedProperty) any {
	sources := make(map[string]any, len(d.sources))
	for _, src := range d.sources {
		sources[src] = e.Get(src)
	}
	return d.Value(sources)
}

// Contains reports whether the property holds a value, nil included.
func (e *Entity) Contains(pid string) bool {
	_, ok := e.values[pid]
	return ok
}

// IsNull reports whether the property value is nil. A foreign key is
// null when its reference columns are: a single reference column is
// nil, a non nullable column of a composite reference is nil, or all
// columns of a composite reference are.
func (e *Entity) IsNull(pid string) bool {
	if fk, ok := e.def.byID[pid].(*ForeignKeyProperty); ok {
		return e.foreignKeyNull(fk)
	}
	return e.Get(pid) == nil
}

func (e *Entity) foreignKeyNull(fk *ForeignKeyProperty) bool {
	if !fk.Composite() {
		return e.values[fk.references[0].ID()] == nil
	}
	all := true
	for _, ref := range fk.references {
		if e.values[ref.ID()] != nil {
			all = false
		} else if !ref.Nullable() {
			return true
		}
	}
	return all
}

// PropertyIDs returns the ids of the properties holding a value.
func (e *Entity) PropertyIDs() []string {
	return slices.Sorted(maps.Keys(e.values))
}

// Values returns a copy of the values.
func (e *Entity) Values() map[string]any { return maps.Clone(e.values) }

// Originals returns a copy of the original values of modified properties.
func (e *Entity) Originals() map[string]any { return maps.Clone(e.originals) }

// Put sets the value of the given property. The property must exist and
// not be derived, a value list value must be one of the items, and the
// value must be of the property type. Floats and decimals are rounded
// to the maximum fraction digits. Putting a foreign key entity sets the
// reference columns to its key values and cascades denormalized values.
func (e *Entity) Put(pid string, v any) error {
	p, err := e.property(pid)
	if err != nil {
		return err
	}
	return e.put(p, v, true)
}

// MustPut is like Put but panics on error.
func (e *Entity) MustPut(pid string, v any) *Entity {
	if err := e.Put(pid, v); err != nil {
		panic(err)
	}
	return e
}

func (e *Entity) put(p Property, v any, checkTypes bool) error {
	if err := e.checkValue(p, v); err != nil {
		return err
	}
	if checkTypes {
		if err := checkType(p, v); err != nil {
			return err
		}
	}
	if c, ok := AsColumn(p); ok && c.IsPrimaryKey() {
		e.key = nil
	}
	e.str = nil
	if fk, ok := p.(*ForeignKeyProperty); ok {
		ref, _ := v.(*Entity)
		if err := e.propagate(fk, ref); err != nil {
			return err
		}
	}
	e.set(p.ID(), e.prepare(p, v))
	if _, ok := AsColumn(p); ok {
		e.dropStaleReferences(p.ID())
	}
	return nil
}

func (e *Entity) checkValue(p Property, v any) error {
	switch p := p.(type) {
	case *DerivedProperty:
		return fmt.Errorf("%w: derived property %s.%s cannot be set", ErrInvalidValue, e.def.id, p.id)
	case *ValueListProperty:
		if v != nil && !p.Valid(v) {
			return fmt.Errorf("%w: %v is not in the value list of %s.%s", ErrInvalidValue, v, e.def.id, p.id)
		}
	}
	if ref, ok := v.(*Entity); ok && (ref == e || ref.def.id == e.def.id && ref.Key().Equal(e.Key())) {
		return fmt.Errorf("%w: circular reference %s -> %s", ErrInvalidValue, e, p.ID())
	}
	return nil
}

func checkType(p Property, v any) error {
	if !p.Type().Valid(v) {
		return fmt.Errorf("%w: %s.%s expects %s, got %T", ErrInvalidValue, p.EntityID(), p.ID(), p.Type(), v)
	}
	if fk, ok := p.(*ForeignKeyProperty); ok && v != nil {
		if ref := v.(*Entity); ref.def.id != fk.foreignEntity {
			return fmt.Errorf("%w: %s.%s expects %s, got %s", ErrInvalidValue, p.EntityID(), p.ID(), fk.foreignEntity, ref.def.id)
		}
	}
	return nil
}

// prepare rounds floating point values.
func (e *Entity) prepare(p Property, v any) any {
	digits := p.MaxFractionDigits()
	if digits < 0 {
		digits = e.def.Settings().MaxFractionDigits
	}
	switch v := v.(type) {
	case float64:
		f, _ := decimal.NewFromFloat(v).Round(int32(digits)).Float64()
		return f
	case decimal.Decimal:
		return v.Round(int32(digits))
	}
	return v
}

// propagate sets the reference columns of fk to the key of ref, mirror
// columns excluded, and cascades the denormalized values.
func (e *Entity) propagate(fk *ForeignKeyProperty, ref *Entity) error {
	delete(e.refKeys, fk.id)
	foreign, err := e.def.foreignDefinition(fk)
	if err != nil {
		return err
	}
	for i, pk := range foreign.primaryKey {
		if i >= len(fk.references) {
			break
		}
		column := fk.references[i]
		if _, ok := column.(*MirrorProperty); ok {
			continue
		}
		var v any
		if ref != nil {
			v = ref.values[pk.id]
		}
		e.setColumn(column, v)
	}
	for _, dn := range e.def.denormalized[fk.id] {
		var v any
		if ref != nil {
			v = ref.Get(dn.source)
		}
		e.setColumn(dn, v)
	}
	return nil
}

func (e *Entity) setColumn(c Columnar, v any) {
	if c.columnProperty().IsPrimaryKey() {
		e.key = nil
	}
	e.set(c.ID(), e.prepare(c, v))
}

// dropStaleReferences removes loaded foreign key entities whose key no
// longer matches the reference column pid.
func (e *Entity) dropStaleReferences(pid string) {
	for _, fk := range e.def.fkByReference[pid] {
		delete(e.refKeys, fk.id)
		ref, ok := e.values[fk.id].(*Entity)
		if !ok {
			continue
		}
		foreign, err := e.def.foreignDefinition(fk)
		if err != nil {
			continue
		}
		for i, column := range fk.references {
			if column.ID() == pid && i < len(foreign.primaryKey) && !valuesEqual(ref.values[foreign.primaryKey[i].id], e.values[pid]) {
				delete(e.values, fk.id)
				delete(e.originals, fk.id)
				e.notify(fk.id, nil, ref, false)
				break
			}
		}
	}
}

// set stores v and tracks the original value. Changing a value back to
// its original clears the modified state, and values set for the first
// time are not modifications.
func (e *Entity) set(pid string, v any) {
	previous, existed := e.values[pid]
	e.values[pid] = v
	if existed && valuesEqual(previous, v) {
		return
	}
	if existed {
		if original, modified := e.originals[pid]; modified {
			if valuesEqual(original, v) {
				delete(e.originals, pid)
			}
		} else {
			e.setOriginal(pid, previous)
		}
	}
	e.notify(pid, v, previous, !existed)
}

func (e *Entity) setOriginal(pid string, v any) {
	if e.originals == nil {
		e.originals = make(map[string]any)
	}
	e.originals[pid] = v
}

func (e *Entity) notify(pid string, v, previous any, initial bool) {
	if len(e.listeners) == 0 {
		return
	}
	change := ValueChange{Property: pid, Value: v, Previous: previous, Initial: initial}
	for _, l := range slices.Clone(e.listeners) {
		(*l)(e, change)
	}
	for _, d := range e.def.derived[pid] {
		dv := e.derivedValue(d)
		for _, l := range slices.Clone(e.listeners) {
			(*l)(e, ValueChange{Property: d.id, Value: dv, Previous: dv})
		}
	}
}

// AddListener registers l for value changes and returns a function
// removing it.
func (e *Entity) AddListener(l ValueListener) (remove func()) {
	ref := &l
	e.listeners = append(e.listeners, ref)
	return func() {
		e.listeners = slices.DeleteFunc(e.listeners, func(o *ValueListener) bool { return o == ref })
	}
}

// Remove removes the value of the given property. Removing a foreign key
// also removes its reference columns.
func (e *Entity) Remove(pid string) {
	if _, ok := e.def.byID[pid]; ok {
		e.removeValue(pid)
	}
}

func (e *Entity) removeValue(pid string) {
	previous, ok := e.values[pid]
	if !ok {
		return
	}
	delete(e.values, pid)
	delete(e.originals, pid)
	e.str = nil
	p := e.def.byID[pid]
	if c, ok := AsColumn(p); ok && c.IsPrimaryKey() {
		e.key = nil
	}
	if fk, ok := p.(*ForeignKeyProperty); ok {
		delete(e.refKeys, fk.id)
		for _, ref := range fk.references {
			e.removeValue(ref.ID())
		}
	}
	e.notify(pid, nil, previous, false)
}

// Clear removes all values.
func (e *Entity) Clear() {
	e.values = make(map[string]any)
	e.originals = nil
	e.key, e.refKeys, e.str = nil, nil, nil
}

// ClearKeyValues removes the primary key values and their originals.
func (e *Entity) ClearKeyValues() {
	for _, p := range e.def.primaryKey {
		delete(e.values, p.id)
		delete(e.originals, p.id)
	}
	e.key, e.str = nil, nil
}

// Modified reports whether the given property has been modified.
func (e *Entity) Modified(pid string) bool {
	_, ok := e.originals[pid]
	return ok
}

// IsModified reports whether a writable column, or a transient property
// modifying the entity, has been modified.
func (e *Entity) IsModified() bool {
	for pid := range e.originals {
		switch p := e.def.byID[pid].(type) {
		case *TransientProperty:
			if p.modifies {
				return true
			}
		case Columnar:
			if p.columnProperty().Writable() {
				return true
			}
		}
	}
	return false
}

// Original returns the original value of the given property, or its
// value when it has not been modified.
func (e *Entity) Original(pid string) any {
	if v, ok := e.originals[pid]; ok {
		return v
	}
	return e.Get(pid)
}

// Save accepts the current value of the given property as its original.
func (e *Entity) Save(pid string) { delete(e.originals, pid) }

// SaveAll accepts all current values as original.
func (e *Entity) SaveAll() { e.originals = nil }

// Revert restores the original value of the given property. Restoring a
// foreign key fails when the original reference is no longer valid, for
// instance when it now references the entity itself.
func (e *Entity) Revert(pid string) error {
	v, ok := e.originals[pid]
	if !ok {
		return nil
	}
	p, ok := e.def.byID[pid]
	if !ok {
		return nil
	}
	if err := e.put(p, v, false); err != nil {
		return fmt.Errorf("revert %s.%s: %w", e.def.id, pid, err)
	}
	return nil
}

// RevertAll restores all original values, continuing past the ones that
// cannot be restored.
func (e *Entity) RevertAll() error {
	var errs []error
	for _, pid := range slices.Sorted(maps.Keys(e.originals)) {
		if err := e.Revert(pid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ForeignKey returns the entity referenced by the given foreign key. An
// entity holding only the referenced key is returned when the reference
// has not been loaded, and nil when the foreign key is null.
func (e *Entity) ForeignKey(fkID string) *Entity {
	fk, ok := e.def.byID[fkID].(*ForeignKeyProperty)
	if !ok {
		return nil
	}
	if ref, ok := e.values[fk.id].(*Entity); ok {
		return ref
	}
	if key := e.ReferencedKey(fkID); key != nil {
		return EntityFromKey(key)
	}
	return nil
}

// IsLoaded reports whether the referenced entity has been set.
func (e *Entity) IsLoaded(fkID string) bool {
	_, ok := e.values[fkID].(*Entity)
	return ok
}

// ReferencedKey returns the key of the entity referenced by the given
// foreign key, or nil when a reference column is nil.
func (e *Entity) ReferencedKey(fkID string) *Key {
	if key, ok := e.refKeys[fkID]; ok {
		return key
	}
	fk, ok := e.def.byID[fkID].(*ForeignKeyProperty)
	if !ok {
		return nil
	}
	foreign, err := e.def.foreignDefinition(fk)
	if err != nil || len(foreign.primaryKey) != len(fk.references) {
		return nil
	}
	key := emptyKey(foreign)
	for i, ref := range fk.references {
		v := e.values[ref.ID()]
		if v == nil {
			return nil
		}
		key.values[i] = v
	}
	if e.refKeys == nil {
		e.refKeys = make(map[string]*Key)
	}
	e.refKeys[fkID] = key
	return key
}

// Key returns the primary key.
func (e *Entity) Key() *Key {
	if e.key == nil {
		key := emptyKey(e.def)
		for i, p := range e.def.primaryKey {
			key.values[i] = e.values[p.id]
		}
		e.key = key
	}
	return e.key
}

// OriginalKey returns the primary key built from the original values.
func (e *Entity) OriginalKey() *Key {
	key := emptyKey(e.def)
	for i, p := range e.def.primaryKey {
		key.values[i] = e.Original(p.id)
	}
	return key
}

// IsNew reports whether the entity has not been stored: its key or
// original key is null.
func (e *Entity) IsNew() bool {
	return e.Key().IsNull() || e.OriginalKey().IsNull()
}

// Equal reports whether e and o have equal keys.
func (e *Entity) Equal(o *Entity) bool {
	if e == o {
		return true
	}
	return o != nil && e.Key().Equal(o.Key())
}

// ValuesEqual reports whether all column values of e and o are equal.
func (e *Entity) ValuesEqual(o *Entity) bool {
	for _, c := range e.def.columns {
		if !valuesEqual(e.values[c.ID()], o.values[c.ID()]) {
			return false
		}
	}
	return true
}

// Compare orders e and o by their definition comparator.
func (e *Entity) Compare(o *Entity) int { return e.def.Compare(e, o) }

// String returns the entity string given by the string provider.
func (e *Entity) String() string {
	if e.str == nil {
		s := e.def.StringOf(e)
		e.str = &s
	}
	return *e.str
}

// AsString returns the formatted value of the given property. Value
// list values are shown by caption and unloaded references by key.
func (e *Entity) AsString(pid string) string {
	p, ok := e.def.byID[pid]
	if !ok {
		return ""
	}
	switch p := p.(type) {
	case *ValueListProperty:
		return p.ItemCaption(e.Get(pid))
	case *ForeignKeyProperty:
		if !e.IsLoaded(pid) {
			if key := e.ReferencedKey(pid); key != nil {
				return key.String()
			}
		}
	}
	return e.format(p, e.Get(pid))
}

func (e *Entity) format(p Property, v any) string {
	if v == nil {
		return ""
	}
	switch v := v.(type) {
	case time.Time:
		layout := p.Format()
		if layout == "" {
			layout = e.def.Settings().Layout(p.Type())
		}
		return v.Format(layout)
	case []byte:
		return fmt.Sprintf("[%d bytes]", len(v))
	case rune:
		return string(v)
	}
	if layout := p.Format(); layout != "" {
		return fmt.Sprintf(layout, v)
	}
	return fmt.Sprint(v)
}

// Copy returns a deep copy of the entity, referenced entities included.
// Listeners are not copied.
func (e *Entity) Copy() *Entity {
	c := NewEntity(e.def)
	c.copyFrom(e)
	return c
}

func (e *Entity) copyFrom(o *Entity) {
	e.values = make(map[string]any, len(o.values))
	for pid, v := range o.values {
		e.values[pid] = copyValue(v)
	}
	e.originals = nil
	for pid, v := range o.originals {
		e.setOriginal(pid, copyValue(v))
	}
	e.key, e.refKeys, e.str = nil, nil, nil
}

func copyValue(v any) any {
	switch v := v.(type) {
	case *Entity:
		return v.Copy()
	case []byte:
		return slices.Clone(v)
	}
	return v
}

// OriginalCopy returns a copy of the entity holding the original values.
func (e *Entity) OriginalCopy() *Entity {
	c := e.Copy()
	for pid, v := range c.originals {
		c.values[pid] = v
	}
	c.originals = nil
	c.key, c.refKeys, c.str = nil, nil, nil
	return c
}

// NewInstance returns an empty entity of the same type.
func (e *Entity) NewInstance() *Entity { return NewEntity(e.def) }

// SetAs replaces the values of e with copies of the values of o, and
// notifies listeners of the values that changed. A nil o clears e.
func (e *Entity) SetAs(o *Entity) {
	previous := e.values
	if o == nil {
		e.Clear()
	} else {
		e.copyFrom(o)
	}
	for pid, v := range previous {
		if nv, ok := e.values[pid]; !ok || !valuesEqual(v, nv) {
			e.notify(pid, nv, v, false)
		}
	}
	for pid, v := range e.values {
		if _, ok := previous[pid]; !ok {
			e.notify(pid, v, nil, true)
		}
	}
}
