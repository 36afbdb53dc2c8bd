// Package sqlgraph classifies database driver errors into constraint
// violations for all supported vendors.
package sqlgraph

import (
	"errors"
	"strings"

	"github.com/syssam/relmap"
)

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	if relmap.IsConstraintError(err) {
		return true
	}
	return Classify(err) != relmap.ConstraintUnknown
}

// errorCoder is an interface for database errors that provide error codes.
// Implemented by: pq.Error, pgx, modernc.org/sqlite, etc.
type errorCoder interface {
	Code() string
}

// errorNumberer is an interface for database errors that provide numeric error codes.
// Implemented by: mysql.MySQLError (Number field via method).
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pq.Error, pgx, and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// mssqlNumberer is implemented by go-mssqldb errors.
type mssqlNumberer interface {
	SQLErrorNumber() int32
}

// oracleCoder is implemented by godror errors, and by modernc.org/sqlite
// errors with sqlite result codes.
type oracleCoder interface {
	Code() int
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// SQL Server error numbers for constraint violations.
const (
	mssqlUniqueConstraint = 2627
	mssqlUniqueIndex      = 2601
	mssqlConstraintFailed = 547 // Foreign key or check, told apart by message
)

// Oracle error codes for constraint violations.
const (
	oraUniqueViolation = 1
	oraCheckViolation  = 2290
	oraParentNotFound  = 2291
	oraChildFound      = 2292
)

// Classify returns the kind of constraint the error violated, or
// relmap.ConstraintUnknown if it is not a constraint violation.
func Classify(err error) relmap.ConstraintKind {
	if err == nil {
		return relmap.ConstraintUnknown
	}
	if e, ok := asError[sqlStateError](err); ok {
		if k := pgKind(e.SQLState()); k != relmap.ConstraintUnknown {
			return k
		}
	}
	if e, ok := asError[errorCoder](err); ok {
		if k := pgKind(e.Code()); k != relmap.ConstraintUnknown {
			return k
		}
	}
	if e, ok := asError[errorNumberer](err); ok {
		switch e.Number() {
		case mysqlDuplicateEntry:
			return relmap.ConstraintUnique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return relmap.ConstraintForeignKey
		case mysqlCheckConstraintViolate:
			return relmap.ConstraintCheck
		}
	}
	if e, ok := asError[mssqlNumberer](err); ok {
		switch e.SQLErrorNumber() {
		case mssqlUniqueConstraint, mssqlUniqueIndex:
			return relmap.ConstraintUnique
		case mssqlConstraintFailed:
			if strings.Contains(err.Error(), "CHECK constraint") {
				return relmap.ConstraintCheck
			}
			return relmap.ConstraintForeignKey
		}
	}
	// sqlite errors also carry integer codes; only trust ORA- errors.
	if e, ok := asError[oracleCoder](err); ok && strings.Contains(err.Error(), "ORA-") {
		switch e.Code() {
		case oraUniqueViolation:
			return relmap.ConstraintUnique
		case oraParentNotFound, oraChildFound:
			return relmap.ConstraintForeignKey
		case oraCheckViolation:
			return relmap.ConstraintCheck
		}
	}

	// Fallback to string matching for drivers that don't implement interfaces
	msg := err.Error()
	switch {
	case containsAny(msg,
		"Error 1062",                          // MySQL
		"violates unique constraint",          // Postgres
		"UNIQUE constraint failed",            // SQLite
		"ORA-00001",                           // Oracle
		"Violation of UNIQUE KEY constraint",  // SQL Server
		"Cannot insert duplicate key",         // SQL Server
		"Violation of PRIMARY KEY constraint", // SQL Server
	):
		return relmap.ConstraintUnique
	case containsAny(msg,
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
		"ORA-02291",                       // Oracle (parent key not found)
		"ORA-02292",                       // Oracle (child record found)
		"conflicted with the FOREIGN KEY", // SQL Server
		"conflicted with the REFERENCE",   // SQL Server
	):
		return relmap.ConstraintForeignKey
	case containsAny(msg,
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
		"ORA-02290",                 // Oracle
		"conflicted with the CHECK", // SQL Server
	):
		return relmap.ConstraintCheck
	}
	return relmap.ConstraintUnknown
}

func pgKind(code string) relmap.ConstraintKind {
	switch code {
	case pgUniqueViolation:
		return relmap.ConstraintUnique
	case pgForeignKeyViolation:
		return relmap.ConstraintForeignKey
	case pgCheckViolation:
		return relmap.ConstraintCheck
	}
	return relmap.ConstraintUnknown
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return Classify(err) == relmap.ConstraintUnique
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return Classify(err) == relmap.ConstraintForeignKey
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	return Classify(err) == relmap.ConstraintCheck
}

// Translate wraps constraint violations in a relmap.ConstraintError and
// returns other errors unchanged.
func Translate(err error) error {
	if err == nil || relmap.IsConstraintError(err) {
		return err
	}
	if k := Classify(err); k != relmap.ConstraintUnknown {
		return relmap.NewConstraintError(k, err.Error(), err)
	}
	return err
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
