package sql

import (
	"strings"

	"github.com/syssam/relmap/dialect"
)

// DialectBuilder prefixes all root builders with the dialect they
// generate statements for.
type DialectBuilder struct {
	dialect  string
	features dialect.Features
}

// Dialect creates a new DialectBuilder with the given dialect name.
func Dialect(name string) *DialectBuilder {
	f, err := dialect.FeaturesOf(name)
	if err != nil {
		f = dialect.Features{Name: name}
	}
	return &DialectBuilder{dialect: name, features: f}
}

// Select creates a Selector for the configured dialect.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	return &Selector{features: d.features, columns: columns}
}

// Insert creates an InsertBuilder for the configured dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	return &InsertBuilder{features: d.features, table: table}
}

// Update creates an UpdateBuilder for the configured dialect.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Delete creates a DeleteBuilder for the configured dialect.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// TableView is a table or a raw from clause.
type TableView interface {
	view() string
}

// SelectTable is a table reference in a from clause.
type SelectTable struct {
	name string
	as   string
}

// Table returns a new table reference.
func Table(name string) *SelectTable {
	return &SelectTable{name: name}
}

// As sets the table alias.
func (t *SelectTable) As(alias string) *SelectTable {
	t.as = alias
	return t
}

func (t *SelectTable) view() string {
	if t.as != "" {
		return t.name + " " + t.as
	}
	return t.name
}

type raw string

func (r raw) view() string { return string(r) }

// Raw returns a from clause used as is, e.g. a join expression.
func Raw(expr string) TableView {
	return raw(expr)
}

// predicate is a where or having fragment with its arguments.
type predicate struct {
	expr string
	args []any
}

func joinPredicates(b *strings.Builder, preds []predicate) []any {
	var args []any
	for i, p := range preds {
		if i > 0 {
			b.WriteString(" AND ")
		}
		if len(preds) > 1 {
			b.WriteString("(" + p.expr + ")")
		} else {
			b.WriteString(p.expr)
		}
		args = append(args, p.args...)
	}
	return args
}

// Selector is a builder for the SELECT statement.
type Selector struct {
	features      dialect.Features
	distinct      bool
	columns       []string
	from          TableView
	custom        string
	containsWhere bool
	where         []predicate
	groupBy       []string
	having        []predicate
	orderBy       []string
	limit         int
	offset        int
	forUpdate     bool
	nowait        bool
}

// Distinct adds the DISTINCT keyword.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// Columns appends columns to the select list.
func (s *Selector) Columns(columns ...string) *Selector {
	s.columns = append(s.columns, columns...)
	return s
}

// From sets the source of the selection.
func (s *Selector) From(t TableView) *Selector {
	s.from = t
	return s
}

// FromQuery replaces the generated select list and from clause with a
// complete query. Set containsWhere if it already has a where clause.
func (s *Selector) FromQuery(query string, containsWhere bool) *Selector {
	s.custom, s.containsWhere = query, containsWhere
	return s
}

// Where appends a predicate. Predicates are joined with AND.
func (s *Selector) Where(expr string, args ...any) *Selector {
	if expr != "" {
		s.where = append(s.where, predicate{expr: expr, args: args})
	}
	return s
}

// GroupBy sets the group by columns.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.groupBy = append(s.groupBy, columns...)
	return s
}

// Having appends a having predicate.
func (s *Selector) Having(expr string, args ...any) *Selector {
	if expr != "" {
		s.having = append(s.having, predicate{expr: expr, args: args})
	}
	return s
}

// OrderBy appends order by terms, e.g. "ename DESC".
func (s *Selector) OrderBy(terms ...string) *Selector {
	s.orderBy = append(s.orderBy, terms...)
	return s
}

// Limit sets the maximum number of rows.
func (s *Selector) Limit(n int) *Selector {
	s.limit = n
	return s
}

// Offset sets the number of rows to skip.
func (s *Selector) Offset(n int) *Selector {
	s.offset = n
	return s
}

// ForUpdate locks the selected rows, unless the dialect cannot.
func (s *Selector) ForUpdate(nowait bool) *Selector {
	s.forUpdate, s.nowait = true, nowait
	return s
}

// Query returns the statement and its arguments.
func (s *Selector) Query() (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	if s.custom != "" {
		b.WriteString(s.custom)
	} else {
		b.WriteString("SELECT ")
		if s.distinct {
			b.WriteString("DISTINCT ")
		}
		if len(s.columns) == 0 {
			b.WriteString("*")
		} else {
			b.WriteString(strings.Join(s.columns, ", "))
		}
		if s.from != nil {
			b.WriteString(" FROM " + s.from.view())
		}
	}
	if len(s.where) > 0 {
		if s.custom != "" && s.containsWhere {
			b.WriteString(" AND ")
		} else {
			b.WriteString(" WHERE ")
		}
		args = append(args, joinPredicates(&b, s.where)...)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(s.groupBy, ", "))
	}
	if len(s.having) > 0 {
		b.WriteString(" HAVING ")
		args = append(args, joinPredicates(&b, s.having)...)
	}
	paginate := s.features.Paginate(s.limit, s.offset)
	switch {
	case len(s.orderBy) > 0:
		b.WriteString(" ORDER BY " + strings.Join(s.orderBy, ", "))
	case paginate != "" && s.features.OffsetFetch:
		// OFFSET/FETCH requires an ORDER BY clause.
		b.WriteString(" ORDER BY (SELECT NULL)")
	}
	if paginate != "" {
		b.WriteString(" " + paginate)
	}
	if s.forUpdate {
		if clause := s.features.ForUpdateClause(s.nowait); clause != "" {
			b.WriteString(" " + clause)
		}
	}
	return b.String(), args
}

// InsertBuilder is a builder for the INSERT statement.
type InsertBuilder struct {
	features  dialect.Features
	table     string
	columns   []string
	values    [][]any
	returning []string
	defaults  bool
}

// Columns sets the inserted columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends a row of values.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Set adds one column and its value to the single inserted row.
func (i *InsertBuilder) Set(column string, v any) *InsertBuilder {
	i.columns = append(i.columns, column)
	if len(i.values) == 0 {
		i.values = append(i.values, []any{})
	}
	i.values[0] = append(i.values[0], v)
	return i
}

// Default inserts a row of default values.
func (i *InsertBuilder) Default() *InsertBuilder {
	i.defaults = true
	return i
}

// Returning adds a RETURNING clause, supported by PostgreSQL and SQLite.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Query returns the statement and its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("INSERT INTO " + i.table)
	if i.defaults || len(i.columns) == 0 {
		if i.features.Name == dialect.MySQL {
			b.WriteString(" VALUES ()")
		} else {
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (" + strings.Join(i.columns, ", ") + ") VALUES ")
		for r, row := range i.values {
			if r > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(" + placeholders(len(row)) + ")")
			args = append(args, row...)
		}
	}
	if len(i.returning) > 0 && (i.features.Name == dialect.Postgres || i.features.Name == dialect.SQLite) {
		b.WriteString(" RETURNING " + strings.Join(i.returning, ", "))
	}
	return b.String(), args
}

// UpdateBuilder is a builder for the UPDATE statement.
type UpdateBuilder struct {
	table   string
	columns []string
	values  []any
	where   []predicate
}

// Set sets a column to a value.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// Empty reports whether no column is set.
func (u *UpdateBuilder) Empty() bool {
	return len(u.columns) == 0
}

// Where appends a predicate. Predicates are joined with AND.
func (u *UpdateBuilder) Where(expr string, args ...any) *UpdateBuilder {
	if expr != "" {
		u.where = append(u.where, predicate{expr: expr, args: args})
	}
	return u
}

// Query returns the statement and its arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE " + u.table + " SET ")
	for i, c := range u.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c + " = ?")
	}
	args := append([]any(nil), u.values...)
	if len(u.where) > 0 {
		b.WriteString(" WHERE ")
		args = append(args, joinPredicates(&b, u.where)...)
	}
	return b.String(), args
}

// DeleteBuilder is a builder for the DELETE statement.
type DeleteBuilder struct {
	table string
	where []predicate
}

// Where appends a predicate. Predicates are joined with AND.
func (d *DeleteBuilder) Where(expr string, args ...any) *DeleteBuilder {
	if expr != "" {
		d.where = append(d.where, predicate{expr: expr, args: args})
	}
	return d
}

// Query returns the statement and its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM " + d.table)
	var args []any
	if len(d.where) > 0 {
		b.WriteString(" WHERE ")
		args = joinPredicates(&b, d.where)
	}
	return b.String(), args
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
