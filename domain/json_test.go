package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityJSON(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	dept := newDept(d, 10, "ACCOUNTING", "NEW YORK")
	emp := d.MustEntity(empID).
		MustPut("empno", 7782).
		MustPut("ename", "CLARK").
		MustPut("dept_fk", dept).
		MustPut("sal", 2450.0).
		MustPut("hiredate", time.Date(1981, time.June, 9, 0, 0, 0, 0, time.UTC))
	emp.MustPut("ename", "CLARKE")

	b, err := json.Marshal(emp)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"originals":{`)
	assert.Contains(t, string(b), `"ename":"CLARK"`)

	var got Entity
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, got.Is(empID))
	assert.True(t, got.ValuesEqual(emp))
	assert.Equal(t, 7782, got.Get("empno"))
	assert.True(t, got.Modified("ename"))
	assert.Equal(t, "CLARK", got.Original("ename"))
	assert.Equal(t, 2450.0, got.Get("income"))
	require.True(t, got.IsLoaded("dept_fk"))
	assert.Equal(t, "ACCOUNTING", got.ForeignKey("dept_fk").Get("dname"))
	assert.True(t, got.Key().Equal(emp.Key()))

	b, err = json.Marshal(dept)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "originals")
}

func TestEntityJSONTypes(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	_, err := d.Define("test.types", []Property{
		PrimaryKey("id", TypeInt64),
		Column("ch", TypeChar),
		Column("flag", TypeBool),
		Column("amount", TypeDecimal),
		Column("day", TypeDate),
		Column("clock", TypeTime),
		Column("at", TypeTimestamp),
		Column("data", TypeBlob),
		Column("missing", TypeString),
	})
	require.NoError(t, err)

	e := d.MustEntity("test.types").
		MustPut("id", int64(1)<<40).
		MustPut("ch", 'x').
		MustPut("flag", true).
		MustPut("amount", decimal.RequireFromString("12.345")).
		MustPut("day", time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)).
		MustPut("clock", time.Date(0, time.January, 1, 13, 45, 30, 0, time.UTC)).
		MustPut("at", time.Date(2024, time.January, 2, 3, 4, 5, 6, time.UTC)).
		MustPut("data", []byte{1, 2, 3}).
		MustPut("missing", nil)

	b, err := json.Marshal(e)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"ch":"x"`)
	assert.Contains(t, s, `"day":"2024-01-02"`)
	assert.Contains(t, s, `"clock":"13:45:30"`)
	assert.Contains(t, s, `"amount":"12.345"`)
	assert.Contains(t, s, `"data":"AQID"`)

	var got Entity
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, got.ValuesEqual(e))
	assert.Equal(t, int64(1)<<40, got.Get("id"))
	assert.Equal(t, 'x', got.Get("ch"))
	assert.Equal(t, true, got.Get("flag"))
	assert.Equal(t, []byte{1, 2, 3}, got.Get("data"))
	assert.True(t, got.Contains("missing"))
	assert.Nil(t, got.Get("missing"))
	amount, ok := Value[decimal.Decimal](&got, "amount")
	require.True(t, ok)
	assert.Equal(t, "12.345", amount.String())
}

func TestKeyJSON(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	k := d.MustKey(deptID, 30)

	b, err := json.Marshal(k)
	require.NoError(t, err)
	var got Key
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, got.Equal(k))

	err = json.Unmarshal([]byte(`{"domain":"`+d.ID()+`","entity":"`+deptID+`","values":{"dname":"SALES"}}`), &got)
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestEntityJSONErrors(t *testing.T) {
	t.Parallel()
	d := newTestDomain(t)
	prefix := `{"domain":"` + d.ID() + `","entity":"` + deptID + `","values":`
	tests := []struct {
		name string
		json string
		want error
	}{
		{"UnknownProperty", prefix + `{"nope":1}}`, ErrUnknownProperty},
		{"InvalidValue", prefix + `{"deptno":"ten"}}`, ErrInvalidValue},
		{"UndefinedEntity", `{"domain":"` + d.ID() + `","entity":"test.nope","values":{}}`, ErrUndefinedEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Entity
			assert.ErrorIs(t, json.Unmarshal([]byte(tt.json), &e), tt.want)
		})
	}

	var e Entity
	assert.Error(t, json.Unmarshal([]byte(`{"domain":"nope","entity":"`+deptID+`","values":{}}`), &e))
}
