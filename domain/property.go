package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the value type of a property.
type Type uint8

// Property value types and the Go types holding them.
const (
	TypeInvalid   Type = iota
	TypeString         // string
	TypeChar           // rune
	TypeBool           // bool
	TypeInt            // int
	TypeInt64          // int64
	TypeFloat          // float64
	TypeDecimal        // decimal.Decimal
	TypeDate           // time.Time
	TypeTimestamp      // time.Time
	TypeTime           // time.Time
	TypeBlob           // []byte
	TypeEntity         // *Entity
	endTypes
)

var typeNames = [...]string{
	TypeInvalid:   "invalid",
	TypeString:    "string",
	TypeChar:      "char",
	TypeBool:      "bool",
	TypeInt:       "int",
	TypeInt64:     "int64",
	TypeFloat:     "float64",
	TypeDecimal:   "decimal",
	TypeDate:      "date",
	TypeTimestamp: "timestamp",
	TypeTime:      "time",
	TypeBlob:      "blob",
	TypeEntity:    "entity",
}

// String returns the type name.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType returns the type with the given name.
func ParseType(name string) (Type, error) {
	for t := TypeString; t < endTypes; t++ {
		if typeNames[t] == name {
			return t, nil
		}
	}
	return TypeInvalid, fmt.Errorf("domain: unknown type %q", name)
}

// Numerical reports whether the type holds numbers.
func (t Type) Numerical() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeFloat || t == TypeDecimal
}

// Integer reports whether the type holds whole numbers.
func (t Type) Integer() bool { return t == TypeInt || t == TypeInt64 }

// Temporal reports whether the type holds a time.Time.
func (t Type) Temporal() bool {
	return t == TypeDate || t == TypeTimestamp || t == TypeTime
}

// Valid reports whether v is nil or of the Go type backing t.
func (t Type) Valid(v any) bool {
	if v == nil {
		return true
	}
	switch v.(type) {
	case string:
		return t == TypeString
	case rune:
		return t == TypeChar
	case bool:
		return t == TypeBool
	case int:
		return t == TypeInt
	case int64:
		return t == TypeInt64
	case float64:
		return t == TypeFloat
	case decimal.Decimal:
		return t == TypeDecimal
	case time.Time:
		return t.Temporal()
	case []byte:
		return t == TypeBlob
	case *Entity:
		return t == TypeEntity
	}
	return false
}

// Convert converts a driver or decoded value to the Go type backing t.
// Nil converts to nil.
func (t Type) Convert(v any) (any, error) {
	if v == nil || t.Valid(v) {
		return v, nil
	}
	switch t {
	case TypeString:
		switch v := v.(type) {
		case []byte:
			return string(v), nil
		case fmt.Stringer:
			return v.String(), nil
		}
	case TypeChar:
		switch v := v.(type) {
		case string:
			if r := []rune(v); len(r) == 1 {
				return r[0], nil
			}
		case []byte:
			if r := []rune(string(v)); len(r) == 1 {
				return r[0], nil
			}
		}
	case TypeBool:
		switch v := v.(type) {
		case int64:
			return v != 0, nil
		case string:
			return strconv.ParseBool(v)
		case []byte:
			return strconv.ParseBool(string(v))
		}
	case TypeInt, TypeInt64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if t == TypeInt {
			return int(n), nil
		}
		return n, nil
	case TypeFloat:
		switch v := v.(type) {
		case float32:
			return float64(v), nil
		case decimal.Decimal:
			return v.InexactFloat64(), nil
		case string:
			return strconv.ParseFloat(v, 64)
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		}
		if n, err := toInt64(v); err == nil {
			return float64(n), nil
		}
	case TypeDecimal:
		switch v := v.(type) {
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case string:
			return decimal.NewFromString(v)
		case []byte:
			return decimal.NewFromString(string(v))
		}
		if n, err := toInt64(v); err == nil {
			return decimal.NewFromInt(n), nil
		}
	case TypeDate, TypeTimestamp, TypeTime:
		switch v := v.(type) {
		case string:
			return parseTime(t, v)
		case []byte:
			return parseTime(t, string(v))
		}
	case TypeBlob:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	}
	return nil, fmt.Errorf("domain: cannot convert %T to %s", v, t)
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("domain: %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("domain: %v is not a whole number", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	}
	return 0, fmt.Errorf("domain: cannot convert %T to an integer", v)
}

var timeLayouts = map[Type][]string{
	TypeDate:      {time.DateOnly, time.RFC3339Nano, time.DateTime},
	TypeTimestamp: {time.RFC3339Nano, "2006-01-02 15:04:05.999999999", time.DateTime, time.DateOnly},
	TypeTime:      {time.TimeOnly, "15:04", time.RFC3339Nano},
}

func parseTime(t Type, s string) (time.Time, error) {
	for _, layout := range timeLayouts[t] {
		if v, err := time.Parse(layout, s); err == nil {
			return v, nil
		}
	}
	return time.Time{}, fmt.Errorf("domain: cannot parse %q as %s", s, t)
}

// Property describes one named attribute of an entity.
type Property interface {
	// ID returns the property id, unique within the entity.
	ID() string
	// EntityID returns the id of the entity the property belongs to.
	// It is empty until the property is defined.
	EntityID() string
	Caption() string
	Description() string
	Type() Type
	Nullable() bool
	ReadOnly() bool
	Hidden() bool
	// Default returns the value new entities start with.
	Default() any
	// Min returns the minimum value, if any.
	Min() (float64, bool)
	// Max returns the maximum value, if any.
	Max() (float64, bool)
	// MaxFractionDigits returns the number of fraction digits floating
	// point values are rounded to, or -1 for the domain default.
	MaxFractionDigits() int
	// MaxLength returns the maximum string length, 0 means unlimited.
	MaxLength() int
	// Format returns the layout used to format the value.
	Format() string

	attributes() *attrs
}

// attrs holds the attributes shared by all property kinds.
type attrs struct {
	id            string
	entityID      string
	caption       string
	description   string
	typ           Type
	nullable      bool
	readOnly      bool
	hidden        bool
	defaultValue  any
	min, max      *float64
	fractionDigit int
	maxLength     int
	format        string
}

func (a *attrs) ID() string             { return a.id }
func (a *attrs) EntityID() string       { return a.entityID }
func (a *attrs) Caption() string        { return a.caption }
func (a *attrs) Description() string    { return a.description }
func (a *attrs) Type() Type             { return a.typ }
func (a *attrs) Nullable() bool         { return a.nullable }
func (a *attrs) ReadOnly() bool         { return a.readOnly }
func (a *attrs) Hidden() bool           { return a.hidden }
func (a *attrs) Default() any           { return a.defaultValue }
func (a *attrs) MaxFractionDigits() int { return a.fractionDigit }
func (a *attrs) MaxLength() int         { return a.maxLength }
func (a *attrs) Format() string         { return a.format }
func (a *attrs) attributes() *attrs     { return a }

func (a *attrs) Min() (float64, bool) {
	if a.min == nil {
		return 0, false
	}
	return *a.min, true
}

func (a *attrs) Max() (float64, bool) {
	if a.max == nil {
		return 0, false
	}
	return *a.max, true
}

// String returns the property id.
func (a *attrs) String() string { return a.id }

// Option configures a property.
type Option func(*config)

// config collects the options of every property kind. Options that do
// not apply to a kind are ignored.
type config struct {
	attrs
	column     string
	keyIndex   int
	updatable  *bool
	notSelect  bool
	grouping   bool
	aggregate  bool
	hasDefault bool
	fetchDepth *int
	soft       bool
	modifies   *bool
}

func newConfig(id string, t Type, opts []Option) *config {
	c := &config{
		attrs: attrs{
			id:            id,
			typ:           t,
			nullable:      true,
			fractionDigit: -1,
		},
		keyIndex: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caption sets the property caption. Hidden properties have none by default.
func Caption(s string) Option {
	return func(c *config) { c.caption = s }
}

// Description sets the property description.
func Description(s string) Option {
	return func(c *config) { c.description = s }
}

// Nullable sets whether the property accepts nil.
func Nullable(b bool) Option {
	return func(c *config) { c.nullable = b }
}

// NotNull marks the property as required.
func NotNull() Option { return Nullable(false) }

// ReadOnly marks the property as read only.
func ReadOnly() Option {
	return func(c *config) { c.readOnly = true }
}

// Hidden hides the property from captions and listings.
func Hidden() Option {
	return func(c *config) { c.hidden = true }
}

// Default sets the value new entities start with.
func Default(v any) Option {
	return func(c *config) { c.defaultValue = v }
}

// Min sets the minimum value of a numerical property.
func Min(v float64) Option {
	return func(c *config) { c.min = &v }
}

// Max sets the maximum value of a numerical property.
func Max(v float64) Option {
	return func(c *config) { c.max = &v }
}

// Range sets the minimum and maximum value of a numerical property.
func Range(lo, hi float64) Option {
	return func(c *config) { c.min, c.max = &lo, &hi }
}

// MaxFractionDigits sets the number of fraction digits values are rounded to.
func MaxFractionDigits(n int) Option {
	return func(c *config) { c.fractionDigit = n }
}

// MaxLength sets the maximum length of a string property.
func MaxLength(n int) Option {
	return func(c *config) { c.maxLength = n }
}

// Format sets the layout used when formatting the value. Temporal
// properties use a time layout, others a fmt verb such as "%.2f".
func Format(layout string) Option {
	return func(c *config) { c.format = layout }
}

// ColumnName sets the column name, which defaults to the property id.
func ColumnName(name string) Option {
	return func(c *config) { c.column = name }
}

// KeyIndex marks the column as part of the primary key at the given index.
func KeyIndex(i int) Option {
	return func(c *config) { c.keyIndex = i }
}

// Updatable sets whether the column is included in updates.
func Updatable(b bool) Option {
	return func(c *config) { c.updatable = &b }
}

// NotSelectable excludes the column from selects.
func NotSelectable() Option {
	return func(c *config) { c.notSelect = true }
}

// Grouping marks the column as part of the group by clause.
func Grouping() Option {
	return func(c *config) { c.grouping = true }
}

// Aggregate marks the column as an aggregate expression.
func Aggregate() Option {
	return func(c *config) { c.aggregate = true }
}

// ColumnHasDefault marks the column as having a database default, which
// allows nil on insert of a non nullable column.
func ColumnHasDefault() Option {
	return func(c *config) { c.hasDefault = true }
}

// FetchDepth sets how many levels of references are fetched through a
// foreign key.
func FetchDepth(n int) Option {
	return func(c *config) { c.fetchDepth = &n }
}

// SoftReference marks a foreign key that is not enforced by the database.
func SoftReference() Option {
	return func(c *config) { c.soft = true }
}

// ModifiesEntity sets whether changing a transient value modifies the entity.
func ModifiesEntity(b bool) Option {
	return func(c *config) { c.modifies = &b }
}

// ColumnProperty is a property backed by a table column.
type ColumnProperty struct {
	attrs
	column     string
	keyIndex   int
	updatable  bool
	selectable bool
	grouping   bool
	aggregate  bool
	hasDefault bool
}

func newColumn(c *config) ColumnProperty {
	p := ColumnProperty{
		attrs:      c.attrs,
		column:     c.column,
		keyIndex:   c.keyIndex,
		updatable:  c.keyIndex < 0,
		selectable: !c.notSelect,
		grouping:   c.grouping,
		aggregate:  c.aggregate,
		hasDefault: c.hasDefault,
	}
	if p.column == "" {
		p.column = p.id
	}
	if p.keyIndex >= 0 {
		p.nullable = false
	}
	if c.updatable != nil {
		p.updatable = *c.updatable
	}
	return p
}

// Column returns a column property.
func Column(id string, t Type, opts ...Option) *ColumnProperty {
	p := newColumn(newConfig(id, t, opts))
	return &p
}

// PrimaryKey returns the first column of a primary key. Use KeyIndex for
// the other columns of a composite key.
func PrimaryKey(id string, t Type, opts ...Option) *ColumnProperty {
	return Column(id, t, append([]Option{KeyIndex(0)}, opts...)...)
}

// ColumnName returns the column name.
func (p *ColumnProperty) ColumnName() string { return p.column }

// Expression returns the expression used to select the column.
func (p *ColumnProperty) Expression() string { return p.column }

// KeyIndex returns the index of the column in the primary key, or -1.
func (p *ColumnProperty) KeyIndex() int { return p.keyIndex }

// IsPrimaryKey reports whether the column is part of the primary key.
func (p *ColumnProperty) IsPrimaryKey() bool { return p.keyIndex >= 0 }

// Updatable reports whether the column is included in updates.
func (p *ColumnProperty) Updatable() bool { return p.updatable }

// Selectable reports whether the column is included in selects.
func (p *ColumnProperty) Selectable() bool { return p.selectable }

// Grouping reports whether the column is part of the group by clause.
func (p *ColumnProperty) Grouping() bool { return p.grouping }

// Aggregate reports whether the column is an aggregate expression.
func (p *ColumnProperty) Aggregate() bool { return p.aggregate }

// HasDefault reports whether the database supplies a default value.
func (p *ColumnProperty) HasDefault() bool { return p.hasDefault }

// Writable reports whether the column can be written by updates.
func (p *ColumnProperty) Writable() bool { return !p.readOnly && p.updatable }

func (p *ColumnProperty) columnProperty() *ColumnProperty { return p }

// Columnar is implemented by the property kinds backed by a column.
type Columnar interface {
	Property
	ColumnName() string
	Expression() string
	columnProperty() *ColumnProperty
}

// AsColumn returns the column of p, if it has one.
func AsColumn(p Property) (*ColumnProperty, bool) {
	if c, ok := p.(Columnar); ok {
		return c.columnProperty(), true
	}
	return nil, false
}

// MirrorProperty is a column that mirrors a reference column of another
// foreign key. Foreign key propagation never sets it.
type MirrorProperty struct {
	ColumnProperty
}

// Mirror returns a mirror column property.
func Mirror(id string, t Type, opts ...Option) *MirrorProperty {
	return &MirrorProperty{ColumnProperty: newColumn(newConfig(id, t, opts))}
}

// DenormalizedProperty is a column holding a copy of a value of the
// entity referenced through a foreign key. Setting the foreign key
// cascades the value.
type DenormalizedProperty struct {
	ColumnProperty
	foreignKey string
	source     string
}

// Denormalized returns a property copying source from the entity
// referenced by foreignKey.
func Denormalized(id, foreignKey, source string, t Type, opts ...Option) *DenormalizedProperty {
	return &DenormalizedProperty{
		ColumnProperty: newColumn(newConfig(id, t, opts)),
		foreignKey:     foreignKey,
		source:         source,
	}
}

// ForeignKey returns the id of the foreign key holding the value source.
func (p *DenormalizedProperty) ForeignKey() string { return p.foreignKey }

// Source returns the id of the property in the referenced entity.
func (p *DenormalizedProperty) Source() string { return p.source }

// Item is an allowed value of a value list property.
type Item struct {
	Value   any    `yaml:"value"`
	Caption string `yaml:"caption"`
}

// ValueListProperty is a column restricted to a list of values.
type ValueListProperty struct {
	ColumnProperty
	items []Item
}

// ValueList returns a value list property.
func ValueList(id string, t Type, items []Item, opts ...Option) *ValueListProperty {
	return &ValueListProperty{
		ColumnProperty: newColumn(newConfig(id, t, opts)),
		items:          items,
	}
}

// Items returns the allowed items.
func (p *ValueListProperty) Items() []Item { return p.items }

// Valid reports whether v is one of the allowed values.
func (p *ValueListProperty) Valid(v any) bool {
	for _, it := range p.items {
		if valuesEqual(it.Value, v) {
			return true
		}
	}
	return false
}

// ItemCaption returns the caption of the item holding v.
func (p *ValueListProperty) ItemCaption(v any) string {
	for _, it := range p.items {
		if valuesEqual(it.Value, v) {
			return it.Caption
		}
	}
	return ""
}

// SubqueryProperty is a read only column computed by a subquery.
type SubqueryProperty struct {
	ColumnProperty
	query string
}

// Subquery returns a property selected with the given subquery.
func Subquery(id string, t Type, query string, opts ...Option) *SubqueryProperty {
	c := newConfig(id, t, opts)
	c.readOnly = true
	f := false
	c.updatable = &f
	return &SubqueryProperty{ColumnProperty: newColumn(c), query: query}
}

// Query returns the subquery.
func (p *SubqueryProperty) Query() string { return p.query }

// Expression returns the parenthesized subquery.
func (p *SubqueryProperty) Expression() string { return "(" + p.query + ")" }

// AuditAction is the change an audit column records.
type AuditAction uint8

// Audit actions.
const (
	AuditInsertTime AuditAction = iota
	AuditInsertUser
	AuditUpdateTime
	AuditUpdateUser
)

// AuditProperty is a read only column recording who changed a row and when.
type AuditProperty struct {
	ColumnProperty
	action AuditAction
}

// Audit returns an audit column property.
func Audit(id string, action AuditAction, opts ...Option) *AuditProperty {
	t := TypeTimestamp
	if action == AuditInsertUser || action == AuditUpdateUser {
		t = TypeString
	}
	c := newConfig(id, t, opts)
	c.readOnly = true
	return &AuditProperty{ColumnProperty: newColumn(c), action: action}
}

// Action returns the audited action.
func (p *AuditProperty) Action() AuditAction { return p.action }

// ForeignKeyProperty references another entity through one or more
// reference columns of this entity.
type ForeignKeyProperty struct {
	attrs
	foreignEntity string
	references    []Columnar
	fetchDepth    int
	soft          bool
}

// ForeignKey returns a foreign key property referencing foreignEntity.
// The reference columns map, in order, to the columns of the foreign
// primary key.
func ForeignKey(id, foreignEntity string, references []Columnar, opts ...Option) *ForeignKeyProperty {
	c := newConfig(id, TypeEntity, opts)
	p := &ForeignKeyProperty{
		attrs:         c.attrs,
		foreignEntity: foreignEntity,
		references:    references,
		fetchDepth:    -1,
		soft:          c.soft,
	}
	if c.fetchDepth != nil {
		p.fetchDepth = *c.fetchDepth
	}
	return p
}

// ForeignEntity returns the id of the referenced entity.
func (p *ForeignKeyProperty) ForeignEntity() string { return p.foreignEntity }

// References returns the reference columns.
func (p *ForeignKeyProperty) References() []Columnar { return p.references }

// Composite reports whether the foreign key has more than one column.
func (p *ForeignKeyProperty) Composite() bool { return len(p.references) > 1 }

// FetchDepth returns the number of reference levels to fetch.
func (p *ForeignKeyProperty) FetchDepth() int { return p.fetchDepth }

// SoftReference reports whether the reference is unenforced.
func (p *ForeignKeyProperty) SoftReference() bool { return p.soft }

// IsReference reports whether pid is one of the reference columns.
func (p *ForeignKeyProperty) IsReference(pid string) bool {
	for _, r := range p.references {
		if r.ID() == pid {
			return true
		}
	}
	return false
}

// TransientProperty is a property that is not stored.
type TransientProperty struct {
	attrs
	modifies bool
}

// Transient returns a transient property.
func Transient(id string, t Type, opts ...Option) *TransientProperty {
	c := newConfig(id, t, opts)
	p := &TransientProperty{attrs: c.attrs, modifies: true}
	if c.modifies != nil {
		p.modifies = *c.modifies
	}
	return p
}

// ModifiesEntity reports whether changing the value modifies the entity.
func (p *TransientProperty) ModifiesEntity() bool { return p.modifies }

// ValueProvider computes a derived value from the source values, keyed
// by property id.
type ValueProvider func(sources map[string]any) any

// DerivedProperty is a read only transient property computed from other
// properties of the same entity.
type DerivedProperty struct {
	TransientProperty
	sources  []string
	provider ValueProvider
}

// Derived returns a property computed by provider from sources.
func Derived(id string, t Type, provider ValueProvider, sources []string, opts ...Option) *DerivedProperty {
	c := newConfig(id, t, opts)
	c.readOnly = true
	return &DerivedProperty{
		TransientProperty: TransientProperty{attrs: c.attrs},
		sources:           sources,
		provider:          provider,
	}
}

// Sources returns the ids of the properties the value is derived from.
func (p *DerivedProperty) Sources() []string { return p.sources }

// Value computes the derived value.
func (p *DerivedProperty) Value(sources map[string]any) any { return p.provider(sources) }

var (
	_ Columnar = (*ColumnProperty)(nil)
	_ Columnar = (*MirrorProperty)(nil)
	_ Columnar = (*DenormalizedProperty)(nil)
	_ Columnar = (*ValueListProperty)(nil)
	_ Columnar = (*SubqueryProperty)(nil)
	_ Columnar = (*AuditProperty)(nil)
	_ Property = (*ForeignKeyProperty)(nil)
	_ Property = (*TransientProperty)(nil)
	_ Property = (*DerivedProperty)(nil)
)
