// Package condition builds the where clauses of entity queries from
// property, key and custom conditions.
package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/relmap/dialect"
	"github.com/syssam/relmap/domain"
)

// Operator is the comparison of a property condition.
type Operator uint8

// Operators.
const (
	Equal Operator = iota
	NotEqual
	Like
	NotLike
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	WithinRange
	OutsideRange
	In
	NotIn
	IsNull
	IsNotNull
)

var operatorNames = [...]string{
	Equal:              "=",
	NotEqual:           "<>",
	Like:               "LIKE",
	NotLike:            "NOT LIKE",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
	WithinRange:        "BETWEEN",
	OutsideRange:       "NOT BETWEEN",
	In:                 "IN",
	NotIn:              "NOT IN",
	IsNull:             "IS NULL",
	IsNotNull:          "IS NOT NULL",
}

// String returns the SQL form of the operator.
func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", o)
}

// negated reports whether the operator excludes its values.
func (o Operator) negated() bool {
	return o == NotEqual || o == NotLike || o == NotIn || o == IsNotNull
}

// Errors returned by Build.
var (
	ErrValueCount       = errors.New("condition: wrong number of values")
	ErrNotQueryable     = errors.New("condition: property is not a column")
	ErrUnknownCondition = errors.New("condition: unknown custom condition")
	ErrEntityMismatch   = errors.New("condition: key of another entity")
)

// Condition is a where clause fragment.
type Condition interface {
	fmt.Stringer
	build(b *builder) error
}

// BuildOption configures Build.
type BuildOption func(*builder)

// WithFeatures splits IN lists to the limit of the vendor.
func WithFeatures(f dialect.Features) BuildOption {
	return func(b *builder) { b.features = f }
}

// Build returns the where clause of cond for def, with ? placeholders,
// and its arguments. A nil condition selects all rows.
func Build(def *domain.Definition, cond Condition, opts ...BuildOption) (string, []any, error) {
	if cond == nil {
		return "", nil, nil
	}
	b := &builder{def: def, wildcard: def.Settings().Wildcard}
	for _, opt := range opts {
		opt(b)
	}
	if err := cond.build(b); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

type builder struct {
	def      *domain.Definition
	features dialect.Features
	wildcard string
	sb       strings.Builder
	args     []any
}

func (b *builder) write(s ...string) {
	for _, s := range s {
		b.sb.WriteString(s)
	}
}

func (b *builder) arg(placeholder string, v any) {
	b.sb.WriteString(placeholder)
	b.args = append(b.args, v)
}

// PropertyCondition compares a property with values.
type PropertyCondition struct {
	property        string
	op              Operator
	values          []any
	caseInsensitive bool
}

// Property returns a condition comparing pid with values. Equal and
// NotEqual with several values become IN lists, and with a nil or no
// value null checks. Foreign key values may be entities or keys.
func Property(pid string, op Operator, values ...any) *PropertyCondition {
	return &PropertyCondition{property: pid, op: op, values: values}
}

// EQ returns an equality condition. A string value containing the
// wildcard is matched with LIKE.
func EQ(pid string, v any) *PropertyCondition { return Property(pid, Equal, v) }

// NEQ returns an inequality condition.
func NEQ(pid string, v any) *PropertyCondition { return Property(pid, NotEqual, v) }

// LT returns a less than condition.
func LT(pid string, v any) *PropertyCondition { return Property(pid, LessThan, v) }

// LTE returns a less than or equal condition.
func LTE(pid string, v any) *PropertyCondition { return Property(pid, LessThanOrEqual, v) }

// GT returns a greater than condition.
func GT(pid string, v any) *PropertyCondition { return Property(pid, GreaterThan, v) }

// GTE returns a greater than or equal condition.
func GTE(pid string, v any) *PropertyCondition { return Property(pid, GreaterThanOrEqual, v) }

// Between returns a condition matching values within lo and hi, both
// included.
func Between(pid string, lo, hi any) *PropertyCondition {
	return Property(pid, WithinRange, lo, hi)
}

// NotBetween returns a condition matching values outside lo and hi.
func NotBetween(pid string, lo, hi any) *PropertyCondition {
	return Property(pid, OutsideRange, lo, hi)
}

// ValuesIn returns a condition matching any of values.
func ValuesIn(pid string, values ...any) *PropertyCondition { return Property(pid, In, values...) }

// ValuesNotIn returns a condition matching none of values.
func ValuesNotIn(pid string, values ...any) *PropertyCondition {
	return Property(pid, NotIn, values...)
}

// Matches returns a LIKE condition.
func Matches(pid string, pattern string) *PropertyCondition { return Property(pid, Like, pattern) }

// Null returns an IS NULL condition.
func Null(pid string) *PropertyCondition { return Property(pid, IsNull) }

// NotNull returns an IS NOT NULL condition.
func NotNull(pid string) *PropertyCondition { return Property(pid, IsNotNull) }

// CaseInsensitive makes string comparisons ignore case.
func (c *PropertyCondition) CaseInsensitive() *PropertyCondition {
	c.caseInsensitive = true
	return c
}

// PropertyID returns the property compared.
func (c *PropertyCondition) PropertyID() string { return c.property }

// Operator returns the comparison.
func (c *PropertyCondition) Operator() Operator { return c.op }

// Values returns the compared values.
func (c *PropertyCondition) Values() []any { return c.values }

func (c *PropertyCondition) String() string {
	var sb strings.Builder
	sb.WriteString(c.property)
	sb.WriteByte(' ')
	sb.WriteString(c.op.String())
	for i, v := range c.values {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprint(&sb, v)
	}
	if c.caseInsensitive {
		sb.WriteString(" (ci)")
	}
	return sb.String()
}

func (c *PropertyCondition) isNull() bool {
	switch c.op {
	case IsNull, IsNotNull:
		return true
	case Equal, NotEqual, Like, NotLike, In, NotIn:
		return len(c.values) == 0 || len(c.values) == 1 && c.values[0] == nil
	}
	return false
}

func (c *PropertyCondition) build(b *builder) error {
	p, ok := b.def.Property(c.property)
	if !ok {
		return fmt.Errorf("%w: %s.%s", domain.ErrUnknownProperty, b.def.ID(), c.property)
	}
	if fk, ok := p.(*domain.ForeignKeyProperty); ok {
		return c.buildForeignKey(b, fk)
	}
	col, ok := p.(domain.Columnar)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNotQueryable, b.def.ID(), c.property)
	}
	values := make([]any, len(c.values))
	for i, v := range c.values {
		cv, err := p.Type().Convert(v)
		if err != nil {
			return fmt.Errorf("condition: %s.%s: %w", b.def.ID(), c.property, err)
		}
		values[i] = cv
	}
	return c.buildColumn(b, col, values)
}

func (c *PropertyCondition) buildColumn(b *builder, col domain.Columnar, values []any) error {
	expr := col.Expression()
	if c.isNull() {
		b.write(expr, " ", nullCheck(c.op.negated()))
		return nil
	}
	str := col.Type() == domain.TypeString
	placeholder := "?"
	if str && c.caseInsensitive {
		expr, placeholder = "UPPER("+expr+")", "UPPER(?)"
	}
	switch c.op {
	case Equal, NotEqual, In, NotIn:
		if len(values) > 1 || c.op == In || c.op == NotIn {
			b.inList(expr, placeholder, values, c.op.negated())
			return nil
		}
		if s, ok := values[0].(string); ok && b.wildcard != "" && strings.Contains(s, b.wildcard) {
			b.write(expr, like(c.op.negated()))
			b.arg(placeholder, strings.ReplaceAll(s, b.wildcard, "%"))
			return nil
		}
		b.write(expr, " ", c.op.String(), " ")
		b.arg(placeholder, values[0])
	case Like, NotLike:
		if len(values) > 1 {
			b.inList(expr, placeholder, values, c.op.negated())
			return nil
		}
		if !str {
			op := "="
			if c.op.negated() {
				op = "<>"
			}
			b.write(expr, " ", op, " ")
			b.arg(placeholder, values[0])
			return nil
		}
		v := values[0]
		if s, ok := v.(string); ok && b.wildcard != "" && b.wildcard != "%" {
			v = strings.ReplaceAll(s, b.wildcard, "%")
		}
		b.write(expr, like(c.op.negated()))
		b.arg(placeholder, v)
	case LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		if len(values) != 1 {
			return fmt.Errorf("%w: %s takes one value, got %d", ErrValueCount, c.op, len(values))
		}
		b.write(expr, " ", c.op.String(), " ")
		b.arg(placeholder, values[0])
	case WithinRange, OutsideRange:
		if len(values) != 2 {
			return fmt.Errorf("%w: %s takes two values, got %d", ErrValueCount, c.op, len(values))
		}
		if c.op == WithinRange {
			b.write("(", expr, " >= ")
			b.arg(placeholder, values[0])
			b.write(" AND ", expr, " <= ")
		} else {
			b.write("(", expr, " < ")
			b.arg(placeholder, values[0])
			b.write(" OR ", expr, " > ")
		}
		b.arg(placeholder, values[1])
		b.write(")")
	default:
		return fmt.Errorf("condition: unknown operator %d", c.op)
	}
	return nil
}

// buildForeignKey compares the reference columns of fk with the keys of
// the given entities or keys.
func (c *PropertyCondition) buildForeignKey(b *builder, fk *domain.ForeignKeyProperty) error {
	if c.isNull() {
		refs := fk.References()
		if len(refs) > 1 {
			b.write("(")
		}
		for i, ref := range refs {
			if i > 0 {
				b.write(" AND ")
			}
			b.write(ref.Expression(), " ", nullCheck(c.op.negated()))
		}
		if len(refs) > 1 {
			b.write(")")
		}
		return nil
	}
	switch c.op {
	case Equal, NotEqual, In, NotIn, Like, NotLike:
	default:
		return fmt.Errorf("%w: foreign key %s supports equality only", ErrNotQueryable, fk.ID())
	}
	keys := make([]*domain.Key, 0, len(c.values))
	for _, v := range c.values {
		switch v := v.(type) {
		case *domain.Entity:
			keys = append(keys, v.Key())
		case *domain.Key:
			keys = append(keys, v)
		default:
			if fk.Composite() {
				return fmt.Errorf("condition: %s expects entities or keys, got %T", fk.ID(), v)
			}
			// Plain values compare with the reference column.
			rc := *c
			rc.property = fk.References()[0].ID()
			return rc.build(b)
		}
	}
	for _, k := range keys {
		if k.EntityID() != fk.ForeignEntity() {
			return fmt.Errorf("%w: %s expects %s, got %s", ErrEntityMismatch, fk.ID(), fk.ForeignEntity(), k.EntityID())
		}
	}
	return b.keys(fk.References(), keys, c.op.negated())
}

func nullCheck(negated bool) string {
	if negated {
		return "IS NOT NULL"
	}
	return "IS NULL"
}

func like(negated bool) string {
	if negated {
		return " NOT LIKE "
	}
	return " LIKE "
}

// inList writes expr IN (...), split into OR'ed (AND'ed when negated)
// lists at the vendor limit.
func (b *builder) inList(expr, placeholder string, values []any, negated bool) {
	op, join := " IN (", " OR "
	if negated {
		op, join = " NOT IN (", " AND "
	}
	chunks := dialect.SplitIn(b.features, values)
	if len(chunks) > 1 {
		b.write("(")
	}
	for i, chunk := range chunks {
		if i > 0 {
			b.write(join)
		}
		b.write(expr, op)
		for j, v := range chunk {
			if j > 0 {
				b.write(", ")
			}
			b.arg(placeholder, v)
		}
		b.write(")")
	}
	if len(chunks) > 1 {
		b.write(")")
	}
}

// keys writes the condition matching columns against the key values.
func (b *builder) keys(columns []domain.Columnar, keys []*domain.Key, negated bool) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: no keys", ErrValueCount)
	}
	if len(columns) == 1 {
		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = k.FirstValue()
		}
		expr := columns[0].Expression()
		switch {
		case len(values) > 1:
			b.inList(expr, "?", values, negated)
		case values[0] == nil:
			b.write(expr, " ", nullCheck(negated))
		default:
			op := " = "
			if negated {
				op = " <> "
			}
			b.write(expr, op)
			b.arg("?", values[0])
		}
		return nil
	}
	if negated {
		b.write("NOT ")
	}
	if len(keys) > 1 || negated {
		b.write("(")
	}
	for i, k := range keys {
		if k.Len() != len(columns) {
			return fmt.Errorf("%w: key has %d values for %d columns", ErrValueCount, k.Len(), len(columns))
		}
		if i > 0 {
			b.write(" OR ")
		}
		b.write("(")
		for j, v := range k.Values() {
			if j > 0 {
				b.write(" AND ")
			}
			if v == nil {
				b.write(columns[j].Expression(), " IS NULL")
				continue
			}
			b.write(columns[j].Expression(), " = ")
			b.arg("?", v)
		}
		b.write(")")
	}
	if len(keys) > 1 || negated {
		b.write(")")
	}
	return nil
}

// KeyCondition matches rows by primary key.
type KeyCondition struct {
	keys []*domain.Key
}

// Keys returns a condition matching the rows with the given keys.
func Keys(keys ...*domain.Key) *KeyCondition { return &KeyCondition{keys: keys} }

// Key returns a condition matching the row with the given key.
func Key(key *domain.Key) *KeyCondition { return Keys(key) }

func (c *KeyCondition) String() string {
	parts := make([]string, len(c.keys))
	for i, k := range c.keys {
		parts[i] = k.String()
	}
	return "key in [" + strings.Join(parts, "; ") + "]"
}

func (c *KeyCondition) build(b *builder) error {
	for _, k := range c.keys {
		if k.EntityID() != b.def.ID() {
			return fmt.Errorf("%w: %s condition with %s key", ErrEntityMismatch, b.def.ID(), k.EntityID())
		}
	}
	pk := b.def.PrimaryKey()
	columns := make([]domain.Columnar, len(pk))
	for i, p := range pk {
		columns[i] = p
	}
	return b.keys(columns, c.keys, false)
}

// Junction joins conditions with AND or OR.
type Junction struct {
	or         bool
	conditions []Condition
}

// And returns the conjunction of the conditions. Nil conditions are
// skipped.
func And(conditions ...Condition) *Junction { return &Junction{conditions: compact(conditions)} }

// Or returns the disjunction of the conditions. Nil conditions are
// skipped.
func Or(conditions ...Condition) *Junction { return &Junction{or: true, conditions: compact(conditions)} }

func compact(conditions []Condition) []Condition {
	out := make([]Condition, 0, len(conditions))
	for _, c := range conditions {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Add appends conditions to the junction.
func (j *Junction) Add(conditions ...Condition) *Junction {
	j.conditions = append(j.conditions, compact(conditions)...)
	return j
}

func (j *Junction) empty() bool {
	for _, c := range j.conditions {
		if jc, ok := c.(*Junction); !ok || !jc.empty() {
			return false
		}
	}
	return true
}

// Conditions returns the joined conditions.
func (j *Junction) Conditions() []Condition { return j.conditions }

func (j *Junction) String() string {
	parts := make([]string, len(j.conditions))
	for i, c := range j.conditions {
		parts[i] = c.String()
	}
	sep := " and "
	if j.or {
		sep = " or "
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (j *Junction) build(b *builder) error {
	conditions := make([]Condition, 0, len(j.conditions))
	for _, c := range j.conditions {
		if jc, ok := c.(*Junction); ok && jc.empty() {
			continue
		}
		conditions = append(conditions, c)
	}
	switch len(conditions) {
	case 0:
		return nil
	case 1:
		return conditions[0].build(b)
	}
	sep := " AND "
	if j.or {
		sep = " OR "
	}
	b.write("(")
	for i, c := range conditions {
		if i > 0 {
			b.write(sep)
		}
		if err := c.build(b); err != nil {
			return err
		}
	}
	b.write(")")
	return nil
}

// CustomCondition uses a condition provider registered on the entity
// definition.
type CustomCondition struct {
	id     string
	values []any
}

// Custom returns the condition registered as id, with values bound to
// its placeholders.
func Custom(id string, values ...any) *CustomCondition {
	return &CustomCondition{id: id, values: values}
}

func (c *CustomCondition) String() string { return fmt.Sprintf("%s%v", c.id, c.values) }

func (c *CustomCondition) build(b *builder) error {
	provider, ok := b.def.Condition(c.id)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownCondition, b.def.ID(), c.id)
	}
	b.write(provider(c.values))
	b.args = append(b.args, c.values...)
	return nil
}

// RawCondition is a literal where clause fragment.
type RawCondition struct {
	expr   string
	values []any
}

// Raw returns a literal where clause fragment with values bound to its
// placeholders.
func Raw(expr string, values ...any) *RawCondition { return &RawCondition{expr: expr, values: values} }

func (c *RawCondition) String() string { return fmt.Sprintf("%s%v", c.expr, c.values) }

func (c *RawCondition) build(b *builder) error {
	if n := strings.Count(c.expr, "?"); n != len(c.values) {
		return fmt.Errorf("%w: %q has %d placeholders, got %d values", ErrValueCount, c.expr, n, len(c.values))
	}
	b.write(c.expr)
	b.args = append(b.args, c.values...)
	return nil
}
