package sql

import (
	"database/sql"
	"fmt"
)

// ScanOne scans one row to the given value. It fails if the rows holds more than 1 row.
func ScanOne(rows ColumnScanner, v any) error {
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("sql/scan: failed getting column names: %w", err)
	}
	if n := len(columns); n != 1 {
		return fmt.Errorf("sql/scan: unexpected number of columns: %d", n)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(v); err != nil {
		return err
	}
	if rows.Next() {
		return fmt.Errorf("sql/scan: expect exactly one row in result set")
	}
	return rows.Err()
}

// ScanInt64 scans and returns an int64 from the rows.
func ScanInt64(rows ColumnScanner) (int64, error) {
	var n NullInt64
	if err := ScanOne(rows, &n); err != nil {
		return 0, err
	}
	return n.Int64, nil
}

// ScanNullInt64 scans an int64 that may be NULL from the rows.
func ScanNullInt64(rows ColumnScanner) (NullInt64, error) {
	var n NullInt64
	err := ScanOne(rows, &n)
	return n, err
}

// ScanStrings scans the first column of every row as a string.
// NULL values are skipped.
func ScanStrings(rows ColumnScanner) ([]string, error) {
	var out []string
	for rows.Next() {
		var s NullString
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if s.Valid {
			out = append(out, s.String)
		}
	}
	return out, rows.Err()
}

// ScanInt64s scans the first column of every row as an int64.
// NULL values are skipped.
func ScanInt64s(rows ColumnScanner) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var n NullInt64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		if n.Valid {
			out = append(out, n.Int64)
		}
	}
	return out, rows.Err()
}

// ScanValues scans up to fetchCount rows as untyped values, all rows when
// fetchCount is negative.
func ScanValues(rows ColumnScanner, fetchCount int) ([][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sql/scan: failed getting column names: %w", err)
	}
	var out [][]any
	for (fetchCount < 0 || len(out) < fetchCount) && rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
		}
		out = append(out, values)
	}
	return out, rows.Err()
}
