package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Domain errors.
var (
	ErrUndefinedEntity = errors.New("domain: entity not defined")
	ErrRedefined       = errors.New("domain: entity already defined")
	ErrUnknownProperty = errors.New("domain: unknown property")
	ErrInvalidValue    = errors.New("domain: invalid value")
)

// Settings holds the domain wide defaults.
type Settings struct {
	// MaxFractionDigits is the number of fraction digits float and
	// decimal values are rounded to when the property sets none.
	MaxFractionDigits int `yaml:"max_fraction_digits"`

	// Layouts used to format temporal values.
	DateLayout      string `yaml:"date_layout"`
	TimestampLayout string `yaml:"timestamp_layout"`
	TimeLayout      string `yaml:"time_layout"`

	// FetchDepth is the default number of reference levels fetched
	// through a foreign key.
	FetchDepth int `yaml:"fetch_depth"`

	// Wildcard is the character matching any string in conditions.
	Wildcard string `yaml:"wildcard"`

	// Collation is the BCP 47 tag of the locale used to compare entity
	// strings.
	Collation string `yaml:"collation"`

	// AllowRedefine allows replacing an entity definition.
	AllowRedefine bool `yaml:"allow_redefine"`
}

// DefaultSettings returns the default domain settings.
func DefaultSettings() Settings {
	return Settings{
		MaxFractionDigits: 10,
		DateLayout:        time.DateOnly,
		TimestampLayout:   "2006-01-02 15:04",
		TimeLayout:        "15:04",
		FetchDepth:        1,
		Wildcard:          "%",
		Collation:         "en",
	}
}

// Layout returns the format layout of the given temporal type.
func (s Settings) Layout(t Type) string {
	switch t {
	case TypeDate:
		return s.DateLayout
	case TypeTime:
		return s.TimeLayout
	default:
		return s.TimestampLayout
	}
}

// collation compares strings in a locale. A collate.Collator is not
// safe for concurrent use.
type collation struct {
	mu sync.Mutex
	c  *collate.Collator
}

var defaultCollation = &collation{c: collate.New(language.English)}

func newCollation(locale string) (*collation, error) {
	if locale == "" {
		return defaultCollation, nil
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("domain: collation %q: %w", locale, err)
	}
	return &collation{c: collate.New(tag)}, nil
}

func (c *collation) compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.CompareString(a, b)
}

// Domain is a registry of entity definitions.
type Domain struct {
	id        string
	settings  Settings
	collation *collation
	mu        sync.RWMutex
	defs      map[string]*Definition
	order     []*Definition
}

// DomainOption configures a Domain.
type DomainOption func(*Domain)

// WithSettings sets the domain settings.
func WithSettings(s Settings) DomainOption {
	return func(d *Domain) { d.settings = s }
}

var registry = struct {
	sync.RWMutex
	domains map[string]*Domain
}{domains: make(map[string]*Domain)}

// New returns a domain with the given id and registers it process wide,
// replacing any domain registered under the same id.
func New(id string, opts ...DomainOption) (*Domain, error) {
	d := &Domain{
		id:       id,
		settings: DefaultSettings(),
		defs:     make(map[string]*Definition),
	}
	for _, opt := range opts {
		opt(d)
	}
	c, err := newCollation(d.settings.Collation)
	if err != nil {
		return nil, err
	}
	d.collation = c
	registry.Lock()
	registry.domains[id] = d
	registry.Unlock()
	return d, nil
}

// MustNew is like New but panics on error.
func MustNew(id string, opts ...DomainOption) *Domain {
	d, err := New(id, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Lookup returns the registered domain with the given id.
func Lookup(id string) (*Domain, bool) {
	registry.RLock()
	defer registry.RUnlock()
	d, ok := registry.domains[id]
	return d, ok
}

// Unregister removes the domain with the given id from the registry.
func Unregister(id string) {
	registry.Lock()
	delete(registry.domains, id)
	registry.Unlock()
}

// ID returns the domain id.
func (d *Domain) ID() string { return d.id }

// Settings returns the domain settings.
func (d *Domain) Settings() Settings { return d.settings }

// Add adds the definitions to the domain. An entity id can only be
// defined once unless the settings allow redefinition.
func (d *Domain) Add(defs ...*Definition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, def := range defs {
		if def.domain != nil && def.domain != d {
			return fmt.Errorf("%w: %s belongs to domain %s", ErrRedefined, def.id, def.domainID)
		}
		if prev, ok := d.defs[def.id]; ok && prev != def {
			if !d.settings.AllowRedefine {
				return fmt.Errorf("%w: %s", ErrRedefined, def.id)
			}
			for i, o := range d.order {
				if o == prev {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
		}
		def.domain = d
		def.domainID = d.id
		def.collation = d.collation
		d.defs[def.id] = def
		d.order = append(d.order, def)
	}
	return nil
}

// Define defines an entity and adds it to the domain.
func (d *Domain) Define(id string, props []Property, opts ...DefinitionOption) (*Definition, error) {
	def, err := Define(id, props, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Add(def); err != nil {
		return nil, err
	}
	return def, nil
}

// MustDefine is like Define but panics on error.
func (d *Domain) MustDefine(id string, props []Property, opts ...DefinitionOption) *Definition {
	def, err := d.Define(id, props, opts...)
	if err != nil {
		panic(err)
	}
	return def
}

// Definition returns the definition of the given entity.
func (d *Domain) Definition(entityID string) (*Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[entityID]
	return def, ok
}

// MustDefinition returns the definition of the given entity and panics
// if it is not defined.
func (d *Domain) MustDefinition(entityID string) *Definition {
	def, ok := d.Definition(entityID)
	if !ok {
		panic(fmt.Sprintf("%s: %s", ErrUndefinedEntity, entityID))
	}
	return def
}

// Definitions returns the definitions in the order they were added.
func (d *Domain) Definitions() []*Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Definition(nil), d.order...)
}

// Contains reports whether the entity is defined.
func (d *Domain) Contains(entityID string) bool {
	_, ok := d.Definition(entityID)
	return ok
}

// FetchDepth returns the fetch depth of fk, or the domain default.
func (d *Domain) FetchDepth(fk *ForeignKeyProperty) int {
	if fk.fetchDepth >= 0 {
		return fk.fetchDepth
	}
	return d.settings.FetchDepth
}

// Entity returns an empty entity of the given type.
func (d *Domain) Entity(entityID string) (*Entity, error) {
	def, ok := d.Definition(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefinedEntity, entityID)
	}
	return NewEntity(def), nil
}

// MustEntity is like Entity but panics on error.
func (d *Domain) MustEntity(entityID string) *Entity {
	e, err := d.Entity(entityID)
	if err != nil {
		panic(err)
	}
	return e
}

// EntityWithDefaults returns an entity with the default values of its
// properties.
func (d *Domain) EntityWithDefaults(entityID string) (*Entity, error) {
	e, err := d.Entity(entityID)
	if err != nil {
		return nil, err
	}
	for _, p := range e.def.properties {
		if _, ok := p.(*DerivedProperty); ok {
			continue
		}
		if _, ok := p.(*ForeignKeyProperty); ok && p.Default() == nil {
			continue
		}
		if err := e.Put(p.ID(), p.Default()); err != nil {
			return nil, err
		}
	}
	e.SaveAll()
	return e, nil
}

// EntityWithValues returns an entity holding the given values and, for
// modified properties, the given original values. Values are not
// validated beyond their type.
func (d *Domain) EntityWithValues(entityID string, values, originals map[string]any) (*Entity, error) {
	e, err := d.Entity(entityID)
	if err != nil {
		return nil, err
	}
	for pid, v := range values {
		p, ok := e.def.byID[pid]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, entityID, pid)
		}
		if err := checkType(p, v); err != nil {
			return nil, err
		}
		e.values[pid] = v
	}
	for pid, v := range originals {
		p, ok := e.def.byID[pid]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, entityID, pid)
		}
		if err := checkType(p, v); err != nil {
			return nil, err
		}
		e.setOriginal(pid, v)
	}
	return e, nil
}

// EntityFromKey returns an entity holding the values of key.
func (d *Domain) EntityFromKey(key *Key) *Entity {
	return EntityFromKey(key)
}

// Key returns a key of the given entity holding values in key order.
func (d *Domain) Key(entityID string, values ...any) (*Key, error) {
	def, ok := d.Definition(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefinedEntity, entityID)
	}
	return NewKey(def, values...)
}

// MustKey is like Key but panics on error.
func (d *Domain) MustKey(entityID string, values ...any) *Key {
	k, err := d.Key(entityID, values...)
	if err != nil {
		panic(err)
	}
	return k
}

// Validate checks the references between the definitions: foreign
// entities are defined, reference columns match the foreign primary key
// in number and type, and denormalized sources exist.
func (d *Domain) Validate() error {
	var errs []error
	for _, def := range d.Definitions() {
		for _, fk := range def.foreignKeys {
			foreign, ok := d.Definition(fk.foreignEntity)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s referenced by %s.%s", ErrUndefinedEntity, fk.foreignEntity, def.id, fk.id))
				continue
			}
			if len(fk.references) != len(foreign.primaryKey) {
				errs = append(errs, fmt.Errorf("domain: %s.%s has %d reference columns, %s has %d key columns",
					def.id, fk.id, len(fk.references), foreign.id, len(foreign.primaryKey)))
				continue
			}
			for i, ref := range fk.references {
				if ref.Type() != foreign.primaryKey[i].typ {
					errs = append(errs, fmt.Errorf("domain: %s.%s is %s, %s.%s is %s",
						def.id, ref.ID(), ref.Type(), foreign.id, foreign.primaryKey[i].id, foreign.primaryKey[i].typ))
				}
			}
			for _, dn := range def.denormalized[fk.id] {
				if _, ok := foreign.byID[dn.source]; !ok {
					errs = append(errs, fmt.Errorf("%w: %s.%s copies %s.%s", ErrUndefinedSource, def.id, dn.id, foreign.id, dn.source))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// foreignDefinition returns the definition referenced by fk.
func (d *Definition) foreignDefinition(fk *ForeignKeyProperty) (*Definition, error) {
	if d.domain != nil {
		if def, ok := d.domain.Definition(fk.foreignEntity); ok {
			return def, nil
		}
	}
	if fk.foreignEntity == d.id {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s referenced by %s.%s", ErrUndefinedEntity, fk.foreignEntity, d.id, fk.id)
}

// Settings returns the settings of the domain the entity belongs to.
func (d *Definition) Settings() Settings {
	if d.domain != nil {
		return d.domain.settings
	}
	return DefaultSettings()
}

// Domain returns the domain the entity belongs to, or nil.
func (d *Definition) Domain() *Domain { return d.domain }
