package domain

import "strings"

// StringProvider returns the string representation of an entity.
type StringProvider func(e *Entity) string

// Stringer composes a StringProvider from entity values and text.
type Stringer struct {
	parts []func(*Entity) string
}

// NewStringer returns an empty Stringer.
func NewStringer() *Stringer { return &Stringer{} }

// ValueString returns a provider giving the formatted value of pid.
func ValueString(pid string) StringProvider {
	return NewStringer().Value(pid).Provider()
}

// Value appends the formatted value of pid.
func (s *Stringer) Value(pid string) *Stringer {
	s.parts = append(s.parts, func(e *Entity) string { return e.AsString(pid) })
	return s
}

// Formatted appends the value of pid formatted with layout.
func (s *Stringer) Formatted(pid, layout string) *Stringer {
	s.parts = append(s.parts, func(e *Entity) string {
		p, ok := e.def.byID[pid]
		if !ok {
			return ""
		}
		return e.format(withFormat{p, layout}, e.Get(pid))
	})
	return s
}

// ForeignKeyValue appends the formatted value of pid of the entity
// referenced by fkID.
func (s *Stringer) ForeignKeyValue(fkID, pid string) *Stringer {
	s.parts = append(s.parts, func(e *Entity) string {
		if ref := e.ForeignKey(fkID); ref != nil {
			return ref.AsString(pid)
		}
		return ""
	})
	return s
}

// Text appends literal text.
func (s *Stringer) Text(text string) *Stringer {
	s.parts = append(s.parts, func(*Entity) string { return text })
	return s
}

// Provider returns the composed provider.
func (s *Stringer) Provider() StringProvider {
	parts := append([]func(*Entity) string(nil), s.parts...)
	return func(e *Entity) string {
		var b strings.Builder
		for _, part := range parts {
			b.WriteString(part(e))
		}
		return b.String()
	}
}

// withFormat overrides the format layout of a property.
type withFormat struct {
	Property
	layout string
}

func (w withFormat) Format() string { return w.layout }
