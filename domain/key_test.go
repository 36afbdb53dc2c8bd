package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compositeDefinition(t *testing.T) *Definition {
	t.Helper()
	return MustDefine("test.line", []Property{
		PrimaryKey("order_id", TypeInt),
		Column("line", TypeString, KeyIndex(1)),
		Column("qty", TypeInt),
	})
}

func TestNewKey(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	dept := d.MustDefinition(deptID)

	k, err := NewKey(dept, "10")
	require.NoError(t, err)
	assert.Equal(t, []any{10}, k.Values())
	assert.Equal(t, deptID, k.EntityID())
	assert.Same(t, dept, k.Definition())
	assert.Equal(t, 1, k.Len())
	assert.False(t, k.Composite())
	assert.True(t, k.SingleInteger())
	assert.Equal(t, 10, k.Value("deptno"))
	assert.Nil(t, k.Value("dname"))

	_, err = NewKey(dept, 10, 20)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = NewKey(dept, "ten")
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Panics(t, func() { MustKey(dept) })
}

func TestKeyEqual(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	dept, emp := d.MustDefinition(deptID), d.MustDefinition(empID)

	tests := []struct {
		name string
		a, b *Key
		want bool
	}{
		{"Same", MustKey(dept, 10), MustKey(dept, int64(10)), true},
		{"Different", MustKey(dept, 10), MustKey(dept, 20), false},
		{"OtherEntity", MustKey(dept, 10), MustKey(emp, 10), false},
		{"Null", MustKey(dept, nil), MustKey(dept, nil), false},
		{"Nil", MustKey(dept, 10), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestKeyNull(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	dept := d.MustDefinition(deptID)
	line := compositeDefinition(t)

	var nilKey *Key
	assert.True(t, nilKey.IsNull())
	assert.True(t, MustKey(dept, nil).IsNull())
	assert.False(t, MustKey(dept, 0).IsNull())

	assert.True(t, MustKey(line, nil, nil).IsNull())
	assert.True(t, MustKey(line, 1, nil).IsNull(), "key columns are not nullable")
	assert.False(t, MustKey(line, 1, "a").IsNull())
}

func TestKeyHash(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	dept := d.MustDefinition(deptID)
	line := compositeDefinition(t)

	assert.Equal(t, int64(10), MustKey(dept, 10).Hash())
	assert.Equal(t, int64(0), MustKey(dept, nil).Hash())

	a, b := MustKey(line, 1, "a"), MustKey(line, 1, "a")
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), MustKey(line, 1, "b").Hash())
	assert.False(t, a.SingleInteger())
	assert.True(t, a.Composite())
}

func TestKeyString(t *testing.T) {
	t.Parallel()
	line := compositeDefinition(t)

	assert.Equal(t, "order_id:1,line:a", MustKey(line, 1, "a").String())
	assert.Equal(t, "order_id:1,line:null", MustKey(line, 1, nil).String())
	assert.Equal(t, MustKey(line, 1, "a").Identity(), MustKey(line, int64(1), "a").Identity())
	assert.NotEqual(t, MustKey(line, 1, "a").Identity(), MustKey(line, 1, nil).Identity())
}

func TestKeyWith(t *testing.T) {
	t.Parallel()
	line := compositeDefinition(t)
	k := MustKey(line, 1, "a")

	k2, err := k.With("line", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", k2.Value("line"))
	assert.Equal(t, "a", k.Value("line"), "With copies the key")

	_, err = k.With("qty", 1)
	assert.ErrorIs(t, err, ErrUnknownProperty)
	_, err = k.With("order_id", "x")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestEntitiesHelpers(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	accounting := newDept(d, 10, "ACCOUNTING", "NEW YORK")
	research := newDept(d, 20, "RESEARCH", "DALLAS")

	emps := []*Entity{
		d.MustEntity(empID).MustPut("empno", 1).MustPut("dept_fk", accounting).MustPut("job", "CLERK"),
		d.MustEntity(empID).MustPut("empno", 2).MustPut("dept_fk", research).MustPut("job", "CLERK"),
		d.MustEntity(empID).MustPut("empno", 3).MustPut("dept_fk", accounting),
	}

	assert.Len(t, Keys(emps), 3)
	assert.Len(t, MapByKey(emps), 3)
	assert.Equal(t, []any{"CLERK", "CLERK"}, ValuesOf("job", emps))
	assert.Equal(t, []any{"CLERK"}, DistinctValues("job", emps))
	refs := ReferencedKeys(emps, "dept_fk")
	require.Len(t, refs, 2)
	assert.True(t, refs[0].Equal(accounting.Key()))
	assert.True(t, refs[1].Equal(research.Key()))

	all := append([]*Entity{accounting, research}, emps...)
	byID := MapByEntityID(all)
	assert.Len(t, byID[deptID], 2)
	assert.Len(t, byID[empID], 3)
	assert.Len(t, MapKeysByEntityID(Keys(all))[empID], 3)

	emps[0].MustPut("empno", 4)
	assert.False(t, IsAnyModified(emps), "key columns are not updatable")
	assert.Equal(t, 1, OriginalKeys(emps)[0].FirstValue())
	emps[0].MustPut("job", "MANAGER")
	assert.True(t, IsAnyModified(emps))

	copies := CopyAll(emps)
	copies[0].MustPut("job", "ANALYST")
	assert.Equal(t, "MANAGER", emps[0].Get("job"))
}

func TestCompareValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b any
		want int
	}{
		{nil, nil, 0},
		{nil, 1, -1},
		{1, nil, 1},
		{"a", "b", -1},
		{2.5, 1.5, 1},
		{false, true, -1},
		{int64(3), 3, 0},
		{10, 9, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareValues(tt.a, tt.b), "%v <> %v", tt.a, tt.b)
	}
}
