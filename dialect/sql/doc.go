// Package sql provides the database/sql plumbing of relmap: connections
// bound to a dialect, statement builders, scanning helpers and query
// statistics.
//
// # Builder Types
//
//   - Selector: SELECT statement builder with grouping, pagination and row locking
//   - InsertBuilder: INSERT statement builder with RETURNING support
//   - UpdateBuilder: UPDATE statement builder with SET and WHERE clauses
//   - DeleteBuilder: DELETE statement builder with WHERE predicates
//
// Builders write ? placeholders. Conn rebinds them for the dialect when the
// statement is executed:
//
//	query, args := sql.Dialect(dialect.Oracle).
//	    Select("empno", "ename").
//	    From(sql.Table("scott.emp")).
//	    Where("deptno = ?", 10).
//	    OrderBy("ename").
//	    Limit(10).
//	    Query()
//	// SELECT empno, ename FROM scott.emp WHERE deptno = ? ORDER BY ename
//	//   OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY
//
// # Statistics
//
// QueryStats counts statements by kind, errors, slow statements and total
// duration. StatsConn records the statements of a connection into it:
//
//	stats := &sql.QueryStats{}
//	conn := sql.NewStatsConn(sql.NewConn(sessionConn, dialect.Postgres), sql.WithQueryStats(stats))
//	...
//	fmt.Println(stats.Stats(), stats.Rates())
package sql
