package domain

import "fmt"

// FromRow returns an entity holding the column values of a selected row,
// keyed by property id. Values are converted to the property types and
// the entity has no modified properties.
func FromRow(def *Definition, values map[string]any) (*Entity, error) {
	e := NewEntity(def)
	for pid, v := range values {
		p, ok := def.byID[pid]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, def.id, pid)
		}
		cv, err := p.Type().Convert(v)
		if err != nil {
			return nil, fmt.Errorf("domain: %s.%s: %w", def.id, pid, err)
		}
		e.values[pid] = e.prepare(p, cv)
	}
	return e, nil
}

// SetReference stores ref as the loaded entity of the foreign key fkID,
// leaving the reference columns and the modified state untouched.
func (e *Entity) SetReference(fkID string, ref *Entity) error {
	fk, ok := e.def.byID[fkID].(*ForeignKeyProperty)
	if !ok {
		return fmt.Errorf("%w: %s.%s is not a foreign key", ErrUnknownProperty, e.def.id, fkID)
	}
	if ref == nil {
		delete(e.values, fk.id)
		return nil
	}
	if err := checkType(fk, ref); err != nil {
		return err
	}
	e.values[fk.id] = ref
	e.str = nil
	return nil
}
