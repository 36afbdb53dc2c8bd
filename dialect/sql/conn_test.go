package sql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relmap/dialect"
)

func TestConnQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	conn := NewConn(db, dialect.Postgres)

	t.Run("Rows", func(t *testing.T) {
		mock.ExpectQuery("SELECT empno, ename FROM emp").
			WillReturnRows(sqlmock.NewRows([]string{"empno", "ename"}).AddRow(7839, "KING").AddRow(7698, nil))
		rows := &Rows{}
		require.NoError(t, conn.Query(context.Background(), "SELECT empno, ename FROM emp", []any{}, rows))
		var names []NullString
		for rows.Next() {
			var (
				empno int
				ename NullString
			)
			require.NoError(t, rows.Scan(&empno, &ename))
			names = append(names, ename)
		}
		require.NoError(t, rows.Close())
		assert.Equal(t, []NullString{{String: "KING", Valid: true}, {}}, names)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("ORA-00942"))
		err := conn.Query(context.Background(), "SELECT * FROM bonus", []any{}, &Rows{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: query: ORA-00942")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		mock.ExpectQuery("SELECT").WillReturnError(context.Canceled)
		assert.ErrorIs(t, conn.Query(ctx, "SELECT 1", []any{}, &Rows{}), context.Canceled)
	})
}

func TestConnExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	session, err := db.Conn(context.Background())
	require.NoError(t, err)
	defer session.Close()
	conn := NewConn(session, dialect.Postgres)

	mock.ExpectExec(`UPDATE emp SET sal = \$1 WHERE deptno = \$2`).
		WithArgs(1000, 20).
		WillReturnResult(sqlmock.NewResult(0, 5))
	var res Result
	require.NoError(t, conn.Exec(context.Background(), "UPDATE emp SET sal = ? WHERE deptno = ?", []any{1000, 20}, &res))
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	mock.ExpectExec("DELETE FROM dept").WillReturnError(errors.New("integrity constraint"))
	err = conn.Exec(context.Background(), "DELETE FROM dept", []any{}, nil)
	assert.ErrorContains(t, err, "dialect/sql: exec: integrity constraint")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebindPlaceholders(t *testing.T) {
	tests := []struct {
		dialect string
		expect  string
	}{
		{dialect.Postgres, `SELECT ename FROM emp WHERE empno = \$1 AND deptno = \$2`},
		{dialect.MySQL, `SELECT ename FROM emp WHERE empno = \? AND deptno = \?`},
		{dialect.SQLite, `SELECT ename FROM emp WHERE empno = \? AND deptno = \?`},
		{dialect.Oracle, `SELECT ename FROM emp WHERE empno = :1 AND deptno = :2`},
		{dialect.SQLServer, `SELECT ename FROM emp WHERE empno = @p1 AND deptno = @p2`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(tt.expect).
				WithArgs(7839, 10).
				WillReturnRows(sqlmock.NewRows([]string{"ename"}).AddRow("KING"))
			rows := &Rows{}
			err = NewConn(db, tt.dialect).Query(context.Background(), "SELECT ename FROM emp WHERE empno = ? AND deptno = ?", []any{7839, 10}, rows)
			require.NoError(t, err)
			require.NoError(t, rows.Close())
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestConnInvalidArgs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	conn := NewConn(db, dialect.SQLite)
	assert.Error(t, conn.Exec(context.Background(), "DELETE FROM emp", "bad", nil))
	assert.Error(t, conn.Exec(context.Background(), "DELETE FROM emp", []any{}, new(int)))
	assert.Error(t, conn.Query(context.Background(), "SELECT 1", []any{}, new(int)))
	assert.Error(t, conn.Query(context.Background(), "SELECT 1", nil, &Rows{}))
	assert.Equal(t, dialect.SQLite, conn.Features().Name)
	assert.Equal(t, "h2", NewConn(db, "h2").Features().Name)
}
