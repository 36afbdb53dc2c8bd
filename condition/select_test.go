package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relmap/domain"
)

func TestSelectFetchDepth(t *testing.T) {
	t.Parallel()
	s := domain.DefaultSettings()
	s.FetchDepth = 2
	d, err := domain.New("condition/"+t.Name(), domain.WithSettings(s))
	require.NoError(t, err)
	defer domain.Unregister(d.ID())
	d.MustDefine("dept", []domain.Property{domain.PrimaryKey("deptno", domain.TypeInt)})
	emp := d.MustDefine("emp", []domain.Property{
		domain.PrimaryKey("empno", domain.TypeInt),
		domain.ForeignKey("dept_fk", "dept", []domain.Columnar{domain.Column("deptno", domain.TypeInt)}),
		domain.ForeignKey("mgr_fk", "emp", []domain.Columnar{domain.Column("mgr", domain.TypeInt)}, domain.FetchDepth(0)),
	})
	deptFK, _ := emp.ForeignKey("dept_fk")
	mgrFK, _ := emp.ForeignKey("mgr_fk")

	q := All("emp")
	assert.Equal(t, 2, q.FetchDepth(deptFK, d))
	assert.Equal(t, 0, q.FetchDepth(mgrFK, d))

	q.WithFetchDepth("mgr_fk", 3)
	assert.Equal(t, 3, q.FetchDepth(mgrFK, d))

	q.WithMaxFetchDepth(1)
	assert.Equal(t, 1, q.FetchDepth(deptFK, d))
	assert.Equal(t, 3, q.FetchDepth(mgrFK, d), "explicit depth wins")
}

func TestSelectBuild(t *testing.T) {
	t.Parallel()
	d := testDomain(t)
	emp := d.MustDefinition("emp")

	q := Where("emp", EQ("ename", "KING"))
	where, args, err := q.Build(emp)
	require.NoError(t, err)
	assert.Equal(t, "ename = ?", where)
	assert.Equal(t, []any{"KING"}, args)

	_, _, err = Where("dept", nil).Build(emp)
	assert.ErrorIs(t, err, ErrEntityMismatch)

	where, _, err = All("emp").Build(emp)
	require.NoError(t, err)
	assert.Empty(t, where)
}

func TestSelectString(t *testing.T) {
	t.Parallel()
	q := Where("emp", And(EQ("job", "CLERK"), GT("sal", 1000)))
	q.OrderBy = domain.Descending("sal")
	q.Limit, q.Offset, q.ForUpdate = 10, 20, true
	q.WithFetchDepth("mgr_fk", 0).WithFetchDepth("dept_fk", 2).WithMaxFetchDepth(3)
	assert.Equal(t,
		"emp where (job = CLERK and sal > 1000) order by sal DESC limit 10 offset 20 for update depth dept_fk=2 depth mgr_fk=0 max depth 3",
		q.String())
	assert.Equal(t, "dept", All("dept").String())
	assert.NotEqual(t, All("dept").String(), Where("dept", EQ("deptno", 10)).String())
}
