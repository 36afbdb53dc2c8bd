package domain

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the YAML representation of a domain.
type File struct {
	ID       string       `yaml:"id"`
	Settings *Settings    `yaml:"settings"`
	Entities []EntityFile `yaml:"entities"`
}

// EntityFile is the YAML representation of an entity definition.
type EntityFile struct {
	ID             string            `yaml:"id"`
	Table          string            `yaml:"table"`
	SelectTable    string            `yaml:"select_table"`
	Caption        string            `yaml:"caption"`
	ReadOnly       bool              `yaml:"read_only"`
	SmallDataset   bool              `yaml:"small_dataset"`
	StaticData     bool              `yaml:"static_data"`
	KeyGenerator   *KeyGeneratorFile `yaml:"key_generator"`
	OrderBy        []string          `yaml:"order_by"`
	Having         string            `yaml:"having"`
	SelectQuery    string            `yaml:"select_query"`
	QueryHasWhere  bool              `yaml:"select_query_has_where"`
	StringProvider []string          `yaml:"string_provider"`
	Search         []string          `yaml:"search"`
	Properties     []PropertyFile    `yaml:"properties"`
}

// KeyGeneratorFile is the YAML representation of a key generator.
type KeyGeneratorFile struct {
	// Type is one of manual, automatic, increment, sequence or queried.
	Type   string `yaml:"type"`
	Source string `yaml:"source"`
}

// PropertyFile is the YAML representation of a property.
type PropertyFile struct {
	ID string `yaml:"id"`

	// Kind is one of column, primary_key, mirror, denormalized,
	// value_list, subquery, audit, foreign_key or transient. Defaults
	// to column.
	Kind              string   `yaml:"kind"`
	Type              string   `yaml:"type"`
	Column            string   `yaml:"column"`
	Caption           string   `yaml:"caption"`
	Description       string   `yaml:"description"`
	Nullable          *bool    `yaml:"nullable"`
	ReadOnly          bool     `yaml:"read_only"`
	Hidden            bool     `yaml:"hidden"`
	Default           any      `yaml:"default"`
	Min               *float64 `yaml:"min"`
	Max               *float64 `yaml:"max"`
	MaxFractionDigits *int     `yaml:"max_fraction_digits"`
	MaxLength         int      `yaml:"max_length"`
	Format            string   `yaml:"format"`
	KeyIndex          *int     `yaml:"key_index"`
	Updatable         *bool    `yaml:"updatable"`
	Selectable        *bool    `yaml:"selectable"`
	Grouping          bool     `yaml:"grouping"`
	Aggregate         bool     `yaml:"aggregate"`
	ColumnHasDefault  bool     `yaml:"column_has_default"`

	// Foreign keys.
	Entity     string         `yaml:"entity"`
	References []PropertyFile `yaml:"references"`
	FetchDepth *int           `yaml:"fetch_depth"`
	Soft       bool           `yaml:"soft"`

	// Denormalized properties.
	ForeignKey string `yaml:"foreign_key"`
	Source     string `yaml:"source"`

	// Value lists, subqueries, audit columns and transients.
	Items          []Item `yaml:"items"`
	Query          string `yaml:"query"`
	Action         string `yaml:"action"`
	ModifiesEntity *bool  `yaml:"modifies_entity"`
}

// LoadFile loads a domain from a YAML file.
func LoadFile(path string) (*Domain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load loads a domain from YAML and validates its references.
func Load(r io.Reader) (*Domain, error) {
	settings := DefaultSettings()
	file := File{Settings: &settings}
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("domain: decode: %w", err)
	}
	return file.Build()
}

// Build defines the entities of the file in a new domain.
func (f *File) Build() (*Domain, error) {
	if f.ID == "" {
		return nil, fmt.Errorf("domain: missing domain id")
	}
	settings := DefaultSettings()
	if f.Settings != nil {
		settings = *f.Settings
	}
	d, err := New(f.ID, WithSettings(settings))
	if err != nil {
		return nil, err
	}
	for _, ef := range f.Entities {
		props := make([]Property, 0, len(ef.Properties))
		for _, pf := range ef.Properties {
			p, err := pf.build()
			if err != nil {
				return nil, fmt.Errorf("domain: %s.%s: %w", ef.ID, pf.ID, err)
			}
			props = append(props, p)
		}
		opts, err := ef.options()
		if err != nil {
			return nil, fmt.Errorf("domain: %s: %w", ef.ID, err)
		}
		if _, err := d.Define(ef.ID, props, opts...); err != nil {
			return nil, err
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (ef *EntityFile) options() ([]DefinitionOption, error) {
	var opts []DefinitionOption
	if ef.Table != "" {
		opts = append(opts, WithTable(ef.Table))
	}
	if ef.SelectTable != "" {
		opts = append(opts, WithSelectTable(ef.SelectTable))
	}
	if ef.Caption != "" {
		opts = append(opts, WithCaption(ef.Caption))
	}
	if ef.ReadOnly {
		opts = append(opts, WithReadOnly())
	}
	if ef.SmallDataset {
		opts = append(opts, WithSmallDataset())
	}
	if ef.StaticData {
		opts = append(opts, WithStaticData())
	}
	if ef.KeyGenerator != nil {
		g, err := ef.KeyGenerator.build(ef)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithKeyGenerator(g))
	}
	if len(ef.OrderBy) > 0 {
		o := new(OrderBy)
		for _, term := range ef.OrderBy {
			if pid, ok := strings.CutPrefix(term, "-"); ok {
				o.Descending(pid)
			} else {
				o.Ascending(term)
			}
		}
		opts = append(opts, WithOrderBy(o))
	}
	if ef.Having != "" {
		opts = append(opts, WithHaving(ef.Having))
	}
	if ef.SelectQuery != "" {
		opts = append(opts, WithSelectQuery(ef.SelectQuery, ef.QueryHasWhere))
	}
	if len(ef.StringProvider) > 0 {
		s := NewStringer()
		for i, pid := range ef.StringProvider {
			if i > 0 {
				s.Text(" ")
			}
			s.Value(pid)
		}
		opts = append(opts, WithStringProvider(s.Provider()))
	}
	if len(ef.Search) > 0 {
		opts = append(opts, WithSearchProperties(ef.Search...))
	}
	return opts, nil
}

func (kf *KeyGeneratorFile) build(ef *EntityFile) (KeyGenerator, error) {
	switch kf.Type {
	case "", "manual":
		return ManualKeyGenerator(), nil
	case "automatic":
		return AutomaticKeyGenerator(kf.Source), nil
	case "increment":
		table := ef.Table
		if table == "" {
			table = ef.ID
		}
		column := kf.Source
		if column == "" {
			for _, pf := range ef.Properties {
				if pf.Kind == "primary_key" || pf.KeyIndex != nil {
					column = pf.columnName()
					break
				}
			}
		}
		return IncrementKeyGenerator(table, column), nil
	case "sequence":
		return SequenceKeyGenerator(kf.Source), nil
	case "queried":
		return QueriedKeyGenerator(kf.Source), nil
	}
	return nil, fmt.Errorf("unknown key generator %q", kf.Type)
}

func (pf *PropertyFile) columnName() string {
	if pf.Column != "" {
		return pf.Column
	}
	return pf.ID
}

var auditActions = map[string]AuditAction{
	"insert_time": AuditInsertTime,
	"insert_user": AuditInsertUser,
	"update_time": AuditUpdateTime,
	"update_user": AuditUpdateUser,
}

func (pf *PropertyFile) build() (Property, error) {
	var t Type
	if pf.Type != "" {
		var err error
		if t, err = ParseType(pf.Type); err != nil {
			return nil, err
		}
	}
	opts, err := pf.options(t)
	if err != nil {
		return nil, err
	}
	switch pf.Kind {
	case "", "column":
		return Column(pf.ID, t, opts...), nil
	case "primary_key":
		return PrimaryKey(pf.ID, t, opts...), nil
	case "mirror":
		return Mirror(pf.ID, t, opts...), nil
	case "denormalized":
		return Denormalized(pf.ID, pf.ForeignKey, pf.Source, t, opts...), nil
	case "value_list":
		items := make([]Item, len(pf.Items))
		for i, it := range pf.Items {
			v, err := t.Convert(it.Value)
			if err != nil {
				return nil, err
			}
			items[i] = Item{Value: v, Caption: it.Caption}
		}
		return ValueList(pf.ID, t, items, opts...), nil
	case "subquery":
		return Subquery(pf.ID, t, pf.Query, opts...), nil
	case "audit":
		action, ok := auditActions[pf.Action]
		if !ok {
			return nil, fmt.Errorf("unknown audit action %q", pf.Action)
		}
		return Audit(pf.ID, action, opts...), nil
	case "transient":
		return Transient(pf.ID, t, opts...), nil
	case "foreign_key":
		refs := make([]Columnar, len(pf.References))
		for i, rf := range pf.References {
			p, err := rf.build()
			if err != nil {
				return nil, err
			}
			c, ok := p.(Columnar)
			if !ok {
				return nil, fmt.Errorf("reference %s is not a column", rf.ID)
			}
			refs[i] = c
		}
		return ForeignKey(pf.ID, pf.Entity, refs, opts...), nil
	}
	return nil, fmt.Errorf("unknown property kind %q", pf.Kind)
}

func (pf *PropertyFile) options(t Type) ([]Option, error) {
	var opts []Option
	add := func(o ...Option) { opts = append(opts, o...) }
	if pf.Column != "" {
		add(ColumnName(pf.Column))
	}
	if pf.Caption != "" {
		add(Caption(pf.Caption))
	}
	if pf.Description != "" {
		add(Description(pf.Description))
	}
	if pf.Nullable != nil {
		add(Nullable(*pf.Nullable))
	}
	if pf.ReadOnly {
		add(ReadOnly())
	}
	if pf.Hidden {
		add(Hidden())
	}
	if pf.Default != nil {
		v, err := t.Convert(pf.Default)
		if err != nil {
			return nil, err
		}
		add(Default(v))
	}
	if pf.Min != nil {
		add(Min(*pf.Min))
	}
	if pf.Max != nil {
		add(Max(*pf.Max))
	}
	if pf.MaxFractionDigits != nil {
		add(MaxFractionDigits(*pf.MaxFractionDigits))
	}
	if pf.MaxLength > 0 {
		add(MaxLength(pf.MaxLength))
	}
	if pf.Format != "" {
		add(Format(pf.Format))
	}
	if pf.KeyIndex != nil {
		add(KeyIndex(*pf.KeyIndex))
	}
	if pf.Updatable != nil {
		add(Updatable(*pf.Updatable))
	}
	if pf.Selectable != nil && !*pf.Selectable {
		add(NotSelectable())
	}
	if pf.Grouping {
		add(Grouping())
	}
	if pf.Aggregate {
		add(Aggregate())
	}
	if pf.ColumnHasDefault {
		add(ColumnHasDefault())
	}
	if pf.FetchDepth != nil {
		add(FetchDepth(*pf.FetchDepth))
	}
	if pf.Soft {
		add(SoftReference())
	}
	if pf.ModifiesEntity != nil {
		add(ModifiesEntity(*pf.ModifiesEntity))
	}
	return opts, nil
}
