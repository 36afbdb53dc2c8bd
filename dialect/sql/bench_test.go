package sql

import (
	"testing"

	"github.com/syssam/relmap/dialect"
)

var benchDialects = []string{dialect.SQLite, dialect.MySQL, dialect.Postgres, dialect.Oracle, dialect.SQLServer}

func BenchmarkInsertBuilder_Small(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Insert("emp").
					Columns("empno", "ename", "job", "mgr", "hiredate", "sal", "comm", "deptno").
					Values(7839, "KING", "PRESIDENT", nil, "1981-11-17", 5000, nil, 10).
					Returning("empno").
					Query()
			}
		})
	}
}

func BenchmarkSelectBuilder_Simple(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Select("empno", "ename", "job").
					From(Table("emp")).
					Query()
			}
		})
	}
}

func BenchmarkSelectBuilder_Complex(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Select("deptno", "job", "sum(sal)").
					From(Table("emp").As("e")).
					Where("deptno IN (?, ?, ?)", 10, 20, 30).
					Where("(comm IS NULL OR comm < ?)", 500).
					GroupBy("deptno", "job").
					Having("sum(sal) > ?", 1000).
					OrderBy("deptno", "job DESC").
					Limit(100).
					Offset(50).
					Query()
			}
		})
	}
}

func BenchmarkUpdateBuilder(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Update("emp").
					Set("sal", 5100).
					Set("comm", nil).
					Where("empno = ?", 7839).
					Query()
			}
		})
	}
}

func BenchmarkDeleteBuilder(b *testing.B) {
	for _, d := range benchDialects {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Delete("emp").
					Where("empno IN (?, ?, ?)", 7369, 7499, 7521).
					Query()
			}
		})
	}
}

func BenchmarkRebind(b *testing.B) {
	f, _ := dialect.FeaturesOf(dialect.Postgres)
	query, _ := Dialect(dialect.Postgres).Select("*").From(Table("emp")).
		Where("deptno = ?", 10).Where("sal > ?", 1000).Query()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = f.Rebind(query)
	}
}
