package dialect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Dialect names for external usage.
const (
	Postgres  = "postgres"
	MySQL     = "mysql"
	SQLite    = "sqlite"
	Oracle    = "oracle"
	SQLServer = "sqlserver"
)

// ExecQuerier runs statements on a database session.
type ExecQuerier interface {
	// Exec runs a statement returning no rows, storing its result in v
	// when v is a *dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query runs a statement returning rows into v, a *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Placeholder is the bind parameter style of a vendor.
type Placeholder uint8

// Placeholder styles.
const (
	Question Placeholder = iota // ?
	Dollar                      // $1
	AtP                         // @p1
	Colon                       // :1
)

// Features describes what a vendor supports and how some of its
// statements are spelled.
type Features struct {
	Name        string
	Placeholder Placeholder
	// OffsetFetch reports OFFSET n ROWS FETCH NEXT m ROWS ONLY pagination
	// instead of LIMIT/OFFSET.
	OffsetFetch bool
	// ForUpdate reports SELECT ... FOR UPDATE support.
	ForUpdate bool
	// ForUpdateNowait reports FOR UPDATE NOWAIT support.
	ForUpdateNowait bool
	// LastInsertID reports whether sql.Result.LastInsertId works.
	LastInsertID bool
	// MaxInList is the maximum number of values in an IN list, 0 for no limit.
	MaxInList int
	// CheckQuery validates a connection, empty to use ping.
	CheckQuery string
}

var features = map[string]Features{
	Postgres: {
		Name:            Postgres,
		Placeholder:     Dollar,
		ForUpdate:       true,
		ForUpdateNowait: true,
	},
	MySQL: {
		Name:            MySQL,
		Placeholder:     Question,
		ForUpdate:       true,
		ForUpdateNowait: true,
		LastInsertID:    true,
	},
	SQLite: {
		Name:         SQLite,
		Placeholder:  Question,
		LastInsertID: true,
	},
	Oracle: {
		Name:            Oracle,
		Placeholder:     Colon,
		OffsetFetch:     true,
		ForUpdate:       true,
		ForUpdateNowait: true,
		MaxInList:       1000,
		CheckQuery:      "SELECT 1 FROM DUAL",
	},
	SQLServer: {
		Name:        SQLServer,
		Placeholder: AtP,
		OffsetFetch: true,
	},
}

// FeaturesOf returns the features of the named dialect. Driver names
// that merely start with a dialect name (e.g. "sqlite3", "postgres-otel")
// resolve to that dialect.
func FeaturesOf(name string) (Features, error) {
	if f, ok := features[name]; ok {
		return f, nil
	}
	for _, d := range []string{Postgres, MySQL, SQLite, Oracle, SQLServer} {
		if strings.HasPrefix(name, d) {
			return features[d], nil
		}
	}
	switch name {
	case "pgx":
		return features[Postgres], nil
	case "godror":
		return features[Oracle], nil
	case "mssql":
		return features[SQLServer], nil
	}
	return Features{}, fmt.Errorf("dialect: unsupported dialect %q", name)
}

// Rebind rewrites the ? placeholders of query into the vendor style.
// Placeholders inside quoted strings and identifiers are left alone.
func (f Features) Rebind(query string) string {
	if f.Placeholder == Question || !strings.Contains(query, "?") {
		return query
	}
	var (
		b     strings.Builder
		n     int
		quote byte
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			switch f.Placeholder {
			case Dollar:
				b.WriteByte('$')
			case AtP:
				b.WriteString("@p")
			case Colon:
				b.WriteByte(':')
			}
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Paginate returns the pagination clause for the given limit and offset,
// or an empty string when neither is set.
func (f Features) Paginate(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if f.OffsetFetch {
		s := "OFFSET " + strconv.Itoa(max(offset, 0)) + " ROWS"
		if limit > 0 {
			s += " FETCH NEXT " + strconv.Itoa(limit) + " ROWS ONLY"
		}
		return s
	}
	if limit <= 0 {
		// LIMIT is mandatory before OFFSET on MySQL and SQLite.
		switch f.Name {
		case MySQL:
			return "LIMIT 18446744073709551615 OFFSET " + strconv.Itoa(offset)
		case SQLite:
			return "LIMIT -1 OFFSET " + strconv.Itoa(offset)
		}
		return "OFFSET " + strconv.Itoa(offset)
	}
	s := "LIMIT " + strconv.Itoa(limit)
	if offset > 0 {
		s += " OFFSET " + strconv.Itoa(offset)
	}
	return s
}

// ForUpdateClause returns the row locking clause, or an empty string if
// the vendor does not support it.
func (f Features) ForUpdateClause(nowait bool) string {
	if !f.ForUpdate {
		return ""
	}
	if nowait && f.ForUpdateNowait {
		return "FOR UPDATE NOWAIT"
	}
	return "FOR UPDATE"
}

// SequenceQuery returns the query fetching the next value of a sequence.
func (f Features) SequenceQuery(sequence string) (string, error) {
	switch f.Name {
	case Postgres:
		return "SELECT nextval('" + sequence + "')", nil
	case Oracle:
		return "SELECT " + sequence + ".NEXTVAL FROM DUAL", nil
	case SQLServer:
		return "SELECT NEXT VALUE FOR " + sequence, nil
	}
	return "", fmt.Errorf("dialect: %s does not support sequences", f.Name)
}

// AutoIncrementQuery returns the query fetching the value generated for
// the last insert in the session. Source names the sequence backing the
// column, when the vendor needs one.
func (f Features) AutoIncrementQuery(table, column, source string) string {
	switch f.Name {
	case Postgres:
		if source != "" {
			return "SELECT currval('" + source + "')"
		}
		return "SELECT currval(pg_get_serial_sequence('" + table + "', '" + column + "'))"
	case MySQL:
		return "SELECT LAST_INSERT_ID()"
	case SQLite:
		return "SELECT last_insert_rowid()"
	case Oracle:
		if source == "" {
			source = table + "_seq"
		}
		return "SELECT " + source + ".CURRVAL FROM DUAL"
	case SQLServer:
		return "SELECT @@IDENTITY"
	}
	return ""
}

// SplitIn splits values into chunks no larger than MaxInList.
func SplitIn[T any](f Features, values []T) [][]T {
	if f.MaxInList <= 0 || len(values) <= f.MaxInList {
		return [][]T{values}
	}
	var chunks [][]T
	for len(values) > f.MaxInList {
		chunks = append(chunks, values[:f.MaxInList])
		values = values[f.MaxInList:]
	}
	return append(chunks, values)
}
