package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-openapi/inflect"
)

// Definition errors.
var (
	ErrDuplicateProperty = errors.New("domain: duplicate property id")
	ErrPropertyBound     = errors.New("domain: property already belongs to another entity")
	ErrNoPrimaryKey      = errors.New("domain: entity has no primary key")
	ErrUndefinedSource   = errors.New("domain: source property not defined")
	ErrDuplicateKeyIndex = errors.New("domain: duplicate primary key index")
)

// ConditionProvider returns the SQL of a named condition for the given
// values. The SQL uses ? placeholders, one per value.
type ConditionProvider func(values []any) string

// Comparator orders two entities of the same type.
type Comparator func(a, b *Entity) int

// Definition describes an entity type: its table and properties.
type Definition struct {
	id              string
	domainID        string
	table           string
	selectTable     string
	caption         string
	readOnly        bool
	smallDataset    bool
	staticData      bool
	keyGenerator    KeyGenerator
	orderBy         *OrderBy
	having          string
	selectQuery     string
	queryHasWhere   bool
	stringer        StringProvider
	comparator      Comparator
	search          []string
	validator       Validator
	conditions      map[string]ConditionProvider
	properties      []Property
	byID            map[string]Property
	primaryKey      []*ColumnProperty
	columns         []Columnar
	foreignKeys     []*ForeignKeyProperty
	transients      []*TransientProperty
	denormalized    map[string][]*DenormalizedProperty
	derived         map[string][]*DerivedProperty
	fkByReference   map[string][]*ForeignKeyProperty
	groupBy         []string
	hasDenormalized bool
	collation       *collation
	domain          *Domain
}

// DefinitionOption configures a Definition.
type DefinitionOption func(*Definition)

// WithTable sets the table name, which defaults to the entity id.
func WithTable(name string) DefinitionOption {
	return func(d *Definition) { d.table = name }
}

// WithSelectTable sets the table or view selected from.
func WithSelectTable(name string) DefinitionOption {
	return func(d *Definition) { d.selectTable = name }
}

// WithCaption sets the entity caption.
func WithCaption(s string) DefinitionOption {
	return func(d *Definition) { d.caption = s }
}

// WithReadOnly marks the entity as read only.
func WithReadOnly() DefinitionOption {
	return func(d *Definition) { d.readOnly = true }
}

// WithSmallDataset marks the entity as having few rows.
func WithSmallDataset() DefinitionOption {
	return func(d *Definition) { d.smallDataset = true }
}

// WithStaticData marks the entity data as rarely changing, which makes
// it eligible for caching.
func WithStaticData() DefinitionOption {
	return func(d *Definition) { d.staticData = true }
}

// WithKeyGenerator sets the primary key generator.
func WithKeyGenerator(g KeyGenerator) DefinitionOption {
	return func(d *Definition) { d.keyGenerator = g }
}

// WithOrderBy sets the default order.
func WithOrderBy(o *OrderBy) DefinitionOption {
	return func(d *Definition) { d.orderBy = o }
}

// WithHaving sets the having clause used with grouping columns.
func WithHaving(clause string) DefinitionOption {
	return func(d *Definition) { d.having = clause }
}

// WithSelectQuery sets a custom select query. containsWhere reports
// whether the query already has a where clause.
func WithSelectQuery(query string, containsWhere bool) DefinitionOption {
	return func(d *Definition) { d.selectQuery, d.queryHasWhere = query, containsWhere }
}

// WithStringProvider sets the function giving the entity string.
func WithStringProvider(p StringProvider) DefinitionOption {
	return func(d *Definition) { d.stringer = p }
}

// WithComparator sets the entity order.
func WithComparator(c Comparator) DefinitionOption {
	return func(d *Definition) { d.comparator = c }
}

// WithSearchProperties sets the string properties searched by default.
func WithSearchProperties(ids ...string) DefinitionOption {
	return func(d *Definition) { d.search = ids }
}

// WithValidator sets the entity validator.
func WithValidator(v Validator) DefinitionOption {
	return func(d *Definition) { d.validator = v }
}

// WithCondition registers a named condition provider.
func WithCondition(id string, p ConditionProvider) DefinitionOption {
	return func(d *Definition) {
		if d.conditions == nil {
			d.conditions = make(map[string]ConditionProvider)
		}
		d.conditions[id] = p
	}
}

// Define returns the definition of an entity type. Reference columns of
// foreign keys are part of the entity even when not listed.
func Define(id string, props []Property, opts ...DefinitionOption) (*Definition, error) {
	d := &Definition{
		id:            id,
		table:         id,
		byID:          make(map[string]Property),
		denormalized:  make(map[string][]*DenormalizedProperty),
		derived:       make(map[string][]*DerivedProperty),
		fkByReference: make(map[string][]*ForeignKeyProperty),
		collation:     defaultCollation,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.selectTable == "" {
		d.selectTable = d.table
	}
	if d.caption == "" {
		d.caption = inflect.Humanize(lastSegment(id))
	}
	if d.keyGenerator == nil {
		d.keyGenerator = ManualKeyGenerator()
	}
	if d.validator == nil {
		d.validator = NewValidator()
	}
	for _, p := range props {
		if err := d.add(p); err != nil {
			return nil, err
		}
		if fk, ok := p.(*ForeignKeyProperty); ok {
			for _, ref := range fk.references {
				if err := d.add(ref); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := d.index(); err != nil {
		return nil, err
	}
	return d, nil
}

// MustDefine is like Define but panics on error.
func MustDefine(id string, props []Property, opts ...DefinitionOption) *Definition {
	d, err := Define(id, props, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Definition) add(p Property) error {
	a := p.attributes()
	if existing, ok := d.byID[a.id]; ok {
		if existing == p {
			return nil
		}
		return fmt.Errorf("%w: %s.%s", ErrDuplicateProperty, d.id, a.id)
	}
	if a.entityID != "" && a.entityID != d.id {
		return fmt.Errorf("%w: %s is bound to %s", ErrPropertyBound, a.id, a.entityID)
	}
	a.entityID = d.id
	if a.caption == "" && !a.hidden {
		a.caption = inflect.Humanize(a.id)
	}
	d.byID[a.id] = p
	d.properties = append(d.properties, p)
	return nil
}

func (d *Definition) index() error {
	for _, p := range d.properties {
		switch p := p.(type) {
		case *ForeignKeyProperty:
			d.foreignKeys = append(d.foreignKeys, p)
			for _, ref := range p.references {
				d.fkByReference[ref.ID()] = append(d.fkByReference[ref.ID()], p)
			}
		case *DerivedProperty:
			for _, src := range p.sources {
				if _, ok := d.byID[src]; !ok {
					return fmt.Errorf("%w: %s.%s derives from %s", ErrUndefinedSource, d.id, p.id, src)
				}
				d.derived[src] = append(d.derived[src], p)
			}
		case *TransientProperty:
			d.transients = append(d.transients, p)
		case Columnar:
			c := p.columnProperty()
			d.columns = append(d.columns, p)
			if c.IsPrimaryKey() {
				d.primaryKey = append(d.primaryKey, c)
			}
			if c.grouping {
				d.groupBy = append(d.groupBy, p.Expression())
			}
			if dn, ok := p.(*DenormalizedProperty); ok {
				d.denormalized[dn.foreignKey] = append(d.denormalized[dn.foreignKey], dn)
				d.hasDenormalized = true
			}
		}
	}
	for fk := range d.denormalized {
		if _, ok := d.byID[fk].(*ForeignKeyProperty); !ok {
			return fmt.Errorf("%w: %s.%s is not a foreign key", ErrUndefinedSource, d.id, fk)
		}
	}
	if len(d.primaryKey) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPrimaryKey, d.id)
	}
	slices.SortStableFunc(d.primaryKey, func(a, b *ColumnProperty) int { return a.keyIndex - b.keyIndex })
	for i := 1; i < len(d.primaryKey); i++ {
		if d.primaryKey[i].keyIndex == d.primaryKey[i-1].keyIndex {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateKeyIndex, d.id, d.primaryKey[i].id)
		}
	}
	return nil
}

func lastSegment(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// ID returns the entity id.
func (d *Definition) ID() string { return d.id }

// DomainID returns the id of the domain the entity belongs to.
func (d *Definition) DomainID() string { return d.domainID }

// Table returns the table name.
func (d *Definition) Table() string { return d.table }

// SelectTable returns the table or view selected from.
func (d *Definition) SelectTable() string { return d.selectTable }

// Caption returns the entity caption.
func (d *Definition) Caption() string { return d.caption }

// ReadOnly reports whether the entity can be mutated.
func (d *Definition) ReadOnly() bool { return d.readOnly }

// SmallDataset reports whether the entity has few rows.
func (d *Definition) SmallDataset() bool { return d.smallDataset }

// StaticData reports whether the entity data rarely changes.
func (d *Definition) StaticData() bool { return d.staticData }

// KeyGenerator returns the primary key generator.
func (d *Definition) KeyGenerator() KeyGenerator { return d.keyGenerator }

// OrderBy returns the default order, or nil.
func (d *Definition) OrderBy() *OrderBy { return d.orderBy }

// GroupBy returns the group by clause built from the grouping columns.
func (d *Definition) GroupBy() string { return strings.Join(d.groupBy, ", ") }

// Having returns the having clause.
func (d *Definition) Having() string { return d.having }

// SelectQuery returns the custom select query, and whether it contains
// a where clause.
func (d *Definition) SelectQuery() (string, bool) { return d.selectQuery, d.queryHasWhere }

// SearchProperties returns the ids of the properties searched by default.
func (d *Definition) SearchProperties() []string { return d.search }

// Validator returns the entity validator.
func (d *Definition) Validator() Validator { return d.validator }

// Condition returns the named condition provider.
func (d *Definition) Condition(id string) (ConditionProvider, bool) {
	p, ok := d.conditions[id]
	return p, ok
}

// Property returns the property with the given id.
func (d *Definition) Property(id string) (Property, bool) {
	p, ok := d.byID[id]
	return p, ok
}

// MustProperty returns the property with the given id and panics if
// there is none.
func (d *Definition) MustProperty(id string) Property {
	p, ok := d.byID[id]
	if !ok {
		panic(fmt.Sprintf("domain: property %s not found in %s", id, d.id))
	}
	return p
}

// ForeignKey returns the foreign key property with the given id.
func (d *Definition) ForeignKey(id string) (*ForeignKeyProperty, bool) {
	fk, ok := d.byID[id].(*ForeignKeyProperty)
	return fk, ok
}

// Properties returns all properties in definition order.
func (d *Definition) Properties() []Property { return d.properties }

// PrimaryKey returns the primary key columns in key order.
func (d *Definition) PrimaryKey() []*ColumnProperty { return d.primaryKey }

// Columns returns the column properties.
func (d *Definition) Columns() []Columnar { return d.columns }

// SelectableColumns returns the columns included in selects.
func (d *Definition) SelectableColumns() []Columnar {
	var cols []Columnar
	for _, c := range d.columns {
		if c.columnProperty().selectable {
			cols = append(cols, c)
		}
	}
	return cols
}

// WritableColumns returns the columns that can be inserted or updated.
// Key columns are included when includeKey is set, unless the key
// generator fills them in after insert.
func (d *Definition) WritableColumns(includeKey, includeNonUpdatable bool) []Columnar {
	var cols []Columnar
	for _, col := range d.columns {
		c := col.columnProperty()
		switch {
		case c.readOnly:
		case c.IsPrimaryKey():
			if includeKey && !d.keyGenerator.Inserted() {
				cols = append(cols, col)
			}
		case c.updatable || includeNonUpdatable:
			cols = append(cols, col)
		}
	}
	return cols
}

// ForeignKeys returns the foreign key properties.
func (d *Definition) ForeignKeys() []*ForeignKeyProperty { return d.foreignKeys }

// ForeignKeysReferencing returns the foreign keys referencing foreignEntity.
func (d *Definition) ForeignKeysReferencing(foreignEntity string) []*ForeignKeyProperty {
	var fks []*ForeignKeyProperty
	for _, fk := range d.foreignKeys {
		if fk.foreignEntity == foreignEntity {
			fks = append(fks, fk)
		}
	}
	return fks
}

// ForeignKeysOf returns the foreign keys using the reference column pid.
func (d *Definition) ForeignKeysOf(pid string) []*ForeignKeyProperty { return d.fkByReference[pid] }

// Transients returns the transient properties, derived ones excluded.
func (d *Definition) Transients() []*TransientProperty { return d.transients }

// Visible returns the properties that are not hidden.
func (d *Definition) Visible() []Property {
	var props []Property
	for _, p := range d.properties {
		if !p.Hidden() {
			props = append(props, p)
		}
	}
	return props
}

// Denormalized returns the denormalized properties sourced through fk.
func (d *Definition) Denormalized(fk string) []*DenormalizedProperty { return d.denormalized[fk] }

// HasDenormalized reports whether any property is denormalized.
func (d *Definition) HasDenormalized() bool { return d.hasDenormalized }

// Derived returns the derived properties computed from source.
func (d *Definition) Derived(source string) []*DerivedProperty { return d.derived[source] }

// HasDerived reports whether any property is derived.
func (d *Definition) HasDerived() bool { return len(d.derived) > 0 }

// Compare orders a and b by the comparator, falling back to comparing
// their strings with the collator.
func (d *Definition) Compare(a, b *Entity) int {
	if d.comparator != nil {
		return d.comparator(a, b)
	}
	return d.collation.compare(a.String(), b.String())
}

// StringOf returns the string of e given by the string provider, or the
// entity id followed by the key.
func (d *Definition) StringOf(e *Entity) string {
	if d.stringer != nil {
		return d.stringer(e)
	}
	return d.id + ": " + e.Key().String()
}

// String returns the entity id.
func (d *Definition) String() string { return d.id }
