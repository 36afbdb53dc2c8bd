package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityPut(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID)

	require.NoError(t, e.Put("ename", "SMITH"))
	assert.False(t, e.Modified("ename"), "first value is not a modification")
	assert.False(t, e.IsModified())

	require.NoError(t, e.Put("ename", "JONES"))
	assert.True(t, e.Modified("ename"))
	assert.True(t, e.IsModified())
	assert.Equal(t, "SMITH", e.Original("ename"))
	assert.Equal(t, "JONES", e.Get("ename"))

	require.NoError(t, e.Put("ename", "ADAMS"))
	assert.Equal(t, "SMITH", e.Original("ename"), "original is kept")

	require.NoError(t, e.Put("ename", "SMITH"))
	assert.False(t, e.Modified("ename"), "reverting to the original clears the modification")
	assert.False(t, e.IsModified())

	name, ok := Value[string](e, "ename")
	assert.True(t, ok)
	assert.Equal(t, "SMITH", name)
	_, ok = Value[int](e, "ename")
	assert.False(t, ok)
}

func TestEntityPutInvalid(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID)

	tests := []struct {
		name string
		pid  string
		v    any
		want error
	}{
		{"UnknownProperty", "bonus", 1, ErrUnknownProperty},
		{"WrongType", "sal", "high", ErrInvalidValue},
		{"IntForFloat", "sal", 1000, ErrInvalidValue},
		{"Derived", "income", 1.0, ErrInvalidValue},
		{"NotInValueList", "job", "PRESIDENT", ErrInvalidValue},
		{"WrongEntity", "dept_fk", d.MustEntity(empID), ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, e.Put(tt.pid, tt.v), tt.want)
		})
	}
	assert.Empty(t, e.PropertyIDs())
	assert.Panics(t, func() { e.MustPut("sal", "high") })
}

func TestEntityRounding(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID)

	require.NoError(t, e.Put("sal", 1234.5678))
	assert.Equal(t, 1234.57, e.Get("sal"))
}

func TestEntityForeignKey(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	accounting := newDept(d, 10, "ACCOUNTING", "NEW YORK")
	research := newDept(d, 20, "RESEARCH", "DALLAS")

	e := d.MustEntity(empID).MustPut("empno", 7369)
	require.NoError(t, e.Put("dept_fk", accounting))
	assert.Equal(t, 10, e.Get("deptno"))
	assert.Equal(t, "NEW YORK", e.Get("location"))
	assert.True(t, e.IsLoaded("dept_fk"))
	assert.Same(t, accounting, e.ForeignKey("dept_fk"))
	assert.True(t, e.ReferencedKey("dept_fk").Equal(accounting.Key()))
	assert.False(t, e.IsNull("dept_fk"))

	t.Run("ReplaceReference", func(t *testing.T) {
		e := e.Copy()
		require.NoError(t, e.Put("dept_fk", research))
		assert.Equal(t, 20, e.Get("deptno"))
		assert.Equal(t, "DALLAS", e.Get("location"))
		assert.Equal(t, 10, e.Original("deptno"))
	})
	t.Run("StaleReference", func(t *testing.T) {
		e := e.Copy()
		require.NoError(t, e.Put("deptno", 20))
		assert.False(t, e.IsLoaded("dept_fk"))
		ref := e.ForeignKey("dept_fk")
		require.NotNil(t, ref)
		assert.Equal(t, 20, ref.Get("deptno"))
		assert.Equal(t, "deptno:20", e.AsString("dept_fk"))
	})
	t.Run("SameKeyKeepsReference", func(t *testing.T) {
		e := e.Copy()
		require.NoError(t, e.Put("deptno", 10))
		assert.True(t, e.IsLoaded("dept_fk"))
	})
	t.Run("Null", func(t *testing.T) {
		e := e.Copy()
		require.NoError(t, e.Put("dept_fk", nil))
		assert.Nil(t, e.Get("deptno"))
		assert.Nil(t, e.Get("location"))
		assert.True(t, e.IsNull("dept_fk"))
		assert.Nil(t, e.ForeignKey("dept_fk"))
		assert.Nil(t, e.ReferencedKey("dept_fk"))
	})
	t.Run("Remove", func(t *testing.T) {
		e := e.Copy()
		e.Remove("dept_fk")
		assert.False(t, e.Contains("dept_fk"))
		assert.False(t, e.Contains("deptno"))
		assert.True(t, e.Contains("location"))
	})
}

func TestEntityCircularReference(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID).MustPut("empno", 7566)

	assert.ErrorIs(t, e.Put("mgr_fk", e), ErrInvalidValue)
	assert.ErrorIs(t, e.Put("mgr_fk", e.Copy()), ErrInvalidValue)

	king := d.MustEntity(empID).MustPut("empno", 7839).MustPut("ename", "KING")
	require.NoError(t, e.Put("mgr_fk", king))
	assert.Equal(t, 7839, e.Get("mgr"))

	// Entities without a key never reference themselves.
	a, b := d.MustEntity(empID), d.MustEntity(empID)
	assert.NoError(t, a.Put("mgr_fk", b))
}

func TestEntityDerived(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID)

	var changes []ValueChange
	remove := e.AddListener(func(_ *Entity, c ValueChange) { changes = append(changes, c) })

	require.NoError(t, e.Put("sal", 2000.0))
	assert.Equal(t, 2000.0, e.Get("income"))
	require.Len(t, changes, 2)
	assert.Equal(t, ValueChange{Property: "sal", Value: 2000.0, Initial: true}, changes[0])
	assert.Equal(t, "income", changes[1].Property)
	assert.Equal(t, 2000.0, changes[1].Value)

	require.NoError(t, e.Put("comm", 500.0))
	assert.Equal(t, 2500.0, e.Get("income"))
	assert.Len(t, changes, 4)

	// Setting an equal value notifies nothing.
	require.NoError(t, e.Put("comm", 500.0))
	assert.Len(t, changes, 4)

	remove()
	require.NoError(t, e.Put("sal", 3000.0))
	assert.Len(t, changes, 4)
}

func TestEntityRevert(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID).
		MustPut("empno", 7499).
		MustPut("ename", "ALLEN").
		MustPut("sal", 1600.0)

	e.MustPut("ename", "WARD").MustPut("sal", 1250.0)
	orig := e.OriginalCopy()
	assert.Equal(t, "ALLEN", orig.Get("ename"))
	assert.Equal(t, 1600.0, orig.Get("sal"))
	assert.False(t, orig.IsModified())
	assert.True(t, e.IsModified(), "original copy leaves the entity alone")

	require.NoError(t, e.Revert("ename"))
	assert.Equal(t, "ALLEN", e.Get("ename"))
	assert.True(t, e.Modified("sal"))

	require.NoError(t, e.RevertAll())
	assert.Equal(t, 1600.0, e.Get("sal"))
	assert.False(t, e.IsModified())

	e.MustPut("sal", 1700.0)
	e.Save("sal")
	assert.False(t, e.Modified("sal"))
	e.MustPut("ename", "TURNER")
	e.SaveAll()
	assert.False(t, e.IsModified())
	assert.Empty(t, e.Originals())
}

func TestEntityRevertInvalid(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	jones := d.MustEntity(empID).MustPut("empno", 7566).MustPut("ename", "JONES")
	king := d.MustEntity(empID).MustPut("empno", 7839).MustPut("ename", "KING")
	e := d.MustEntity(empID).MustPut("empno", 7788).MustPut("ename", "SCOTT").MustPut("mgr_fk", jones)
	e.MustPut("mgr_fk", king).MustPut("empno", 7566)

	err := e.Revert("mgr_fk")
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "circular reference")
	assert.Equal(t, 7839, e.Get("mgr"), "the value is left alone")

	require.NoError(t, e.RevertAll(), "the key is restored before the reference")
	assert.Equal(t, 7788, e.Get("empno"))
	assert.Equal(t, 7566, e.Get("mgr"))
	assert.False(t, e.IsModified())
}

func TestEntityKey(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID)
	assert.True(t, e.IsNew())
	assert.True(t, e.Key().IsNull())

	e.MustPut("empno", 7900)
	assert.Equal(t, 7900, e.Key().FirstValue())
	assert.False(t, e.IsNew())

	e.SaveAll()
	e.MustPut("empno", 7901)
	assert.Equal(t, 7901, e.Key().FirstValue(), "key is rebuilt on change")
	assert.Equal(t, 7900, e.OriginalKey().FirstValue())

	e.ClearKeyValues()
	assert.True(t, e.Key().IsNull())
	assert.False(t, e.Contains("empno"))
	assert.True(t, e.IsNew())
}

func TestEntityEqual(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	a := newDept(d, 10, "ACCOUNTING", "NEW YORK")
	b := newDept(d, 10, "SALES", "CHICAGO")

	assert.True(t, a.Equal(b))
	assert.False(t, a.ValuesEqual(b))
	assert.True(t, a.ValuesEqual(a.Copy()))
	assert.False(t, d.MustEntity(deptID).Equal(d.MustEntity(deptID)))
	assert.False(t, a.Equal(nil))
}

func TestModifiedColumns(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := d.MustEntity(empID).MustPut("empno", 1).MustPut("ename", "A").MustPut("sal", 1000.0)
	e.MustPut("sal", 1100.0)

	current := d.MustEntity(empID).MustPut("empno", 1).MustPut("ename", "B").MustPut("sal", 1000.0)
	assert.Equal(t, []string{"ename"}, ModifiedColumns(e, current))

	current.MustPut("ename", "A")
	assert.Empty(t, ModifiedColumns(e, current))
}

func TestEntityIsModifiedTransient(t *testing.T) {
	t.Parallel()

	def := MustDefine("test.transient", []Property{
		PrimaryKey("id", TypeInt),
		Transient("selected", TypeBool),
		Transient("note", TypeString, ModifiesEntity(false)),
		Column("created", TypeTimestamp, ReadOnly()),
	})
	e := NewEntity(def).MustPut("id", 1).MustPut("selected", false).MustPut("note", "a").MustPut("created", time.Now())
	e.MustPut("note", "b").MustPut("created", time.Now().Add(time.Hour))
	assert.False(t, e.IsModified())
	e.MustPut("selected", true)
	assert.True(t, e.IsModified())
}

func TestEntityString(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	dept := newDept(d, 10, "ACCOUNTING", "NEW YORK")
	hired := time.Date(1981, time.November, 17, 0, 0, 0, 0, time.UTC)
	e := d.MustEntity(empID).
		MustPut("empno", 7839).
		MustPut("ename", "KING").
		MustPut("job", "MANAGER").
		MustPut("hiredate", hired).
		MustPut("dept_fk", dept)

	assert.Equal(t, "KING", e.String())
	e.MustPut("ename", "QUEEN")
	assert.Equal(t, "QUEEN", e.String(), "string is reset on change")
	assert.Equal(t, "Manager", e.AsString("job"))
	assert.Equal(t, "1981-11-17", e.AsString("hiredate"))
	assert.Equal(t, "ACCOUNTING", e.AsString("dept_fk"))
	assert.Equal(t, "", e.AsString("comm"))
	assert.Equal(t, "", e.AsString("bonus"))

	def := MustDefine("test.nostring", []Property{PrimaryKey("id", TypeInt)})
	assert.Equal(t, "test.nostring: id:1", NewEntity(def).MustPut("id", 1).String())
}

func TestEntityCopy(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	dept := newDept(d, 10, "ACCOUNTING", "NEW YORK")
	e := d.MustEntity(empID).MustPut("empno", 1).MustPut("dept_fk", dept)
	e.MustPut("empno", 2)

	c := e.Copy()
	assert.True(t, c.Modified("empno"))
	assert.True(t, c.Equal(e))
	c.ForeignKey("dept_fk").MustPut("dname", "SALES")
	assert.Equal(t, "ACCOUNTING", dept.Get("dname"), "references are copied deeply")

	n := e.NewInstance()
	assert.Empty(t, n.PropertyIDs())
	assert.True(t, n.Is(empID))
}

func TestEntitySetAs(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	e := newDept(d, 10, "ACCOUNTING", "NEW YORK")
	o := newDept(d, 10, "ACCOUNTING", "BOSTON")

	var changed []string
	e.AddListener(func(_ *Entity, c ValueChange) { changed = append(changed, c.Property) })
	e.SetAs(o)
	assert.Equal(t, []string{"loc"}, changed)
	assert.Equal(t, "BOSTON", e.Get("loc"))

	changed = nil
	e.SetAs(nil)
	assert.ElementsMatch(t, []string{"deptno", "dname", "loc"}, changed)
	assert.Empty(t, e.PropertyIDs())
}
