// Package dialect provides the database dialect abstraction for relmap.
//
// This package defines the ExecQuerier interface statements run through
// and the per-vendor feature table the SQL layers consult when generating
// statements: placeholder style, pagination, row locking, sequences and
// the connection check query.
//
// # Supported Dialects
//
//   - Postgres: PostgreSQL database
//   - MySQL: MySQL/MariaDB database
//   - SQLite: SQLite database, also used as the embedded database
//   - Oracle: Oracle database
//   - SQLServer: Microsoft SQL Server
//
// # Features
//
// Statements are written with `?` placeholders and rebound for the vendor:
//
//	f, _ := dialect.FeaturesOf(dialect.Postgres)
//	f.Rebind("select * from emp where empno = ?") // ... where empno = $1
//
// # Sub-packages
//
//   - dialect/sql: session connections, statement builders and query statistics
//   - dialect/sql/sqlgraph: constraint error classification
package dialect
