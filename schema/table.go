package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/relmap/database"
	dsql "github.com/syssam/relmap/dialect/sql"
	"github.com/syssam/relmap/domain"
)

// Table describes the columns of a table, either as mapped by a domain or
// as found in the database.
type Table struct {
	Name    string
	Columns []*Column
}

// Column describes a table column. Type is the domain type name for
// mapped columns and the database type name for live ones.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	// Size is the maximum length, 0 when unknown or unbounded.
	Size int64
	// Entity is the id of the entity mapping the column.
	Entity string

	property  domain.Property
	nullKnown bool
}

// Column returns the column with the given name, compared case
// insensitively.
func (t *Table) Column(name string) (*Column, bool) {
	i := slices.IndexFunc(t.Columns, func(c *Column) bool { return strings.EqualFold(c.Name, name) })
	if i < 0 {
		return nil, false
	}
	return t.Columns[i], true
}

// Mapped returns the tables mapped by the definitions of dom, in
// definition order. Definitions selecting from a custom query are not
// mapped to a table.
func Mapped(dom *domain.Domain) []*Table {
	var tables []*Table
	byName := make(map[string]*Table)
	for _, def := range dom.Definitions() {
		if q, _ := def.SelectQuery(); q != "" {
			continue
		}
		name := def.SelectTable()
		t, ok := byName[strings.ToLower(name)]
		if !ok {
			t = &Table{Name: name}
			byName[strings.ToLower(name)] = t
			tables = append(tables, t)
		}
		for _, col := range def.Columns() {
			if _, ok := col.(*domain.SubqueryProperty); ok {
				continue
			}
			if _, ok := t.Column(col.ColumnName()); ok {
				continue
			}
			t.Columns = append(t.Columns, &Column{
				Name:      col.ColumnName(),
				Type:      col.Type().String(),
				Nullable:  col.Nullable(),
				Size:      int64(col.MaxLength()),
				Entity:    def.ID(),
				property:  col,
				nullKnown: true,
			})
		}
	}
	return tables
}

// Inspect returns the columns of table as reported by the driver for an
// empty select.
func Inspect(ctx context.Context, conn *database.Connection, table string) (*Table, error) {
	t := &Table{Name: table}
	query := dsql.Dialect(conn.Dialect()).Select("*").From(dsql.Table(table)).Where("1 = 0")
	q, args := query.Query()
	err := conn.Query(ctx, q, func(rows dsql.ColumnScanner) error {
		types, err := rows.ColumnTypes()
		if err != nil {
			return err
		}
		for _, ct := range types {
			c := &Column{Name: ct.Name(), Type: strings.ToUpper(ct.DatabaseTypeName())}
			c.Nullable, c.nullKnown = ct.Nullable()
			if n, ok := ct.Length(); ok && n > 0 && n < 1<<31 {
				c.Size = n
			}
			t.Columns = append(t.Columns, c)
		}
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("schema: inspect %s: %w", table, err)
	}
	return t, nil
}

// compatible reports whether a database column type can hold values of
// the domain type. Unknown database types are compatible.
func compatible(t domain.Type, dbType string) bool {
	if dbType == "" {
		return true
	}
	has := func(parts ...string) bool {
		return slices.ContainsFunc(parts, func(p string) bool { return strings.Contains(dbType, p) })
	}
	switch {
	case t.Integer():
		return has("INT", "NUMBER", "NUMERIC", "DECIMAL", "SERIAL")
	case t == domain.TypeFloat || t == domain.TypeDecimal:
		return has("REAL", "FLOAT", "DOUBLE", "NUMBER", "NUMERIC", "DECIMAL", "MONEY")
	case t == domain.TypeString || t == domain.TypeChar:
		return has("CHAR", "TEXT", "CLOB", "STRING", "UUID", "ENUM", "JSON")
	case t == domain.TypeBool:
		return has("BOOL", "BIT", "INT", "NUMBER")
	case t.Temporal():
		return has("DATE", "TIME")
	case t == domain.TypeBlob:
		return has("BLOB", "BYTEA", "BINARY", "IMAGE", "RAW")
	default:
		return true
	}
}
