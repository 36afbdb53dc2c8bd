package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relmap"
)

func TestValidator(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	valid := func() *Entity {
		return d.MustEntity(empID).
			MustPut("ename", "SMITH").
			MustPut("dept_fk", newDept(d, 10, "ACCOUNTING", "NEW YORK")).
			MustPut("sal", 1500.0)
	}
	v := d.MustDefinition(empID).Validator()
	require.NoError(t, v.Validate(valid()), "key generator fills in the key")

	tests := []struct {
		name string
		pid  string
		v    any
		want error
	}{
		{"Required", "ename", nil, ErrValueRequired},
		{"RequiredReference", "dept_fk", nil, ErrValueRequired},
		{"TooSmall", "sal", 999.99, ErrValueTooSmall},
		{"TooLarge", "sal", 10000.01, ErrValueTooLarge},
		{"TooLong", "ename", "MONTGOMERY-BURNS", ErrValueTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := valid().MustPut(tt.pid, tt.v)
			err := v.Validate(e)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var verr *relmap.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.pid, verr.Name)
			assert.ErrorIs(t, v.ValidateProperty(e, tt.pid), tt.want)
		})
	}

	t.Run("NullableOnlyWhenNew", func(t *testing.T) {
		t.Parallel()
		e := valid()
		assert.True(t, v.Nullable(e, d.MustDefinition(empID).MustProperty("empno")))
		e.MustPut("empno", 1)
		e.SaveAll()
		assert.False(t, v.Nullable(e, d.MustDefinition(empID).MustProperty("empno")))
		assert.True(t, v.Nullable(e, d.MustDefinition(empID).MustProperty("comm")))
	})
	t.Run("UnknownProperty", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, v.ValidateProperty(valid(), "bonus"), ErrUnknownProperty)
	})
}

func TestValidatorManualKey(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	v := d.MustDefinition(deptID).Validator()

	e := d.MustEntity(deptID).MustPut("dname", "OPERATIONS")
	assert.ErrorIs(t, v.Validate(e), ErrValueRequired)
	e.MustPut("deptno", 40)
	assert.NoError(t, v.Validate(e))
}

func TestValidatorColumnDefault(t *testing.T) {
	t.Parallel()

	def := MustDefine("test.defaults", []Property{
		PrimaryKey("id", TypeInt64),
		Column("created", TypeTimestamp, NotNull(), ColumnHasDefault()),
		Column("name", TypeString, NotNull()),
	}, WithKeyGenerator(AutomaticKeyGenerator("")))
	e := NewEntity(def).MustPut("name", "a")
	assert.NoError(t, def.Validator().Validate(e), "new rows get the column default")

	e.MustPut("id", int64(1))
	e.SaveAll()
	assert.ErrorIs(t, def.Validator().Validate(e), ErrValueRequired)
	assert.NoError(t, NewValidator(WithoutNullValidation()).Validate(e))
}

func TestValidatorReadOnly(t *testing.T) {
	t.Parallel()

	def := MustDefine("test.readonly", []Property{
		PrimaryKey("id", TypeInt),
		Column("total", TypeInt, NotNull(), ReadOnly(), Max(10)),
	})
	e := NewEntity(def).MustPut("id", 1).MustPut("total", 100)
	assert.NoError(t, def.Validator().Validate(e))
	assert.NoError(t, def.Validator().ValidateProperty(e, "total"))
}
