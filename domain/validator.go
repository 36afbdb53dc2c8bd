package domain

import (
	"errors"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/syssam/relmap"
)

// Validation errors, wrapped in a relmap.ValidationError.
var (
	ErrValueRequired = errors.New("value is required")
	ErrValueTooSmall = errors.New("value is below the minimum")
	ErrValueTooLarge = errors.New("value is above the maximum")
	ErrValueTooLong  = errors.New("value exceeds the maximum length")
)

// Validator validates the values of entities.
type Validator interface {
	// Validate validates all properties of e that are not read only.
	Validate(e *Entity) error
	// ValidateProperty validates a single property value.
	ValidateProperty(e *Entity, pid string) error
	// Nullable reports whether the property may be nil in e.
	Nullable(e *Entity, p Property) bool
}

// DefaultValidator performs null, range and length validation.
type DefaultValidator struct {
	skipNull bool
}

// ValidatorOption configures a DefaultValidator.
type ValidatorOption func(*DefaultValidator)

// WithoutNullValidation disables null validation.
func WithoutNullValidation() ValidatorOption {
	return func(v *DefaultValidator) { v.skipNull = true }
}

// NewValidator returns the default validator.
func NewValidator(opts ...ValidatorOption) *DefaultValidator {
	v := &DefaultValidator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the error of the first invalid property.
func (v *DefaultValidator) Validate(e *Entity) error {
	for _, p := range e.def.properties {
		if p.ReadOnly() {
			continue
		}
		if err := v.validate(e, p); err != nil {
			return err
		}
	}
	return nil
}

// ValidateProperty validates the given property of e.
func (v *DefaultValidator) ValidateProperty(e *Entity, pid string) error {
	p, err := e.property(pid)
	if err != nil {
		return err
	}
	if p.ReadOnly() {
		return nil
	}
	return v.validate(e, p)
}

func (v *DefaultValidator) validate(e *Entity, p Property) error {
	if !v.skipNull && !v.isReference(e, p) && !v.Nullable(e, p) && e.IsNull(p.ID()) {
		return relmap.NewValidationError(p.ID(), nil, ErrValueRequired)
	}
	value := e.Get(p.ID())
	if value == nil {
		return nil
	}
	if p.Type().Numerical() {
		return validateRange(p, value)
	}
	if s, ok := value.(string); ok && p.MaxLength() > 0 && utf8.RuneCountInString(s) > p.MaxLength() {
		return relmap.NewValidationError(p.ID(), value, ErrValueTooLong)
	}
	return nil
}

// isReference reports whether p is a reference column of a foreign key,
// which is validated through the foreign key itself.
func (v *DefaultValidator) isReference(e *Entity, p Property) bool {
	return len(e.def.fkByReference[p.ID()]) > 0
}

// Nullable reports whether p may be nil. For a new entity, a column with
// a database default and a key column filled in by the key generator
// may be nil.
func (v *DefaultValidator) Nullable(e *Entity, p Property) bool {
	if p.Nullable() {
		return true
	}
	if _, ok := p.(*ForeignKeyProperty); ok || !e.IsNew() {
		return false
	}
	c, ok := AsColumn(p)
	if !ok {
		return false
	}
	if c.IsPrimaryKey() {
		return !e.def.keyGenerator.Manual()
	}
	return c.hasDefault
}

func validateRange(p Property, value any) error {
	var f float64
	switch n := value.(type) {
	case decimal.Decimal:
		f = n.InexactFloat64()
	case float64:
		f = n
	default:
		i, err := toInt64(value)
		if err != nil {
			return nil
		}
		f = float64(i)
	}
	if lo, ok := p.Min(); ok && f < lo {
		return relmap.NewValidationError(p.ID(), value, ErrValueTooSmall)
	}
	if hi, ok := p.Max(); ok && f > hi {
		return relmap.NewValidationError(p.ID(), value, ErrValueTooLarge)
	}
	return nil
}
