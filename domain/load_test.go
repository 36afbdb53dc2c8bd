package domain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scottYAML = `
id: %s
settings:
  max_fraction_digits: 4
  fetch_depth: 2
entities:
  - id: scott.dept
    table: dept
    small_dataset: true
    order_by: [dname]
    string_provider: [dname]
    properties:
      - id: deptno
        kind: primary_key
        type: int
      - id: dname
        type: string
        max_length: 14
        nullable: false
      - id: loc
        type: string
  - id: scott.emp
    table: emp
    key_generator:
      type: increment
    order_by: [dept_fk, -sal]
    search: [ename, job]
    properties:
      - id: empno
        kind: primary_key
        type: int
      - id: ename
        type: string
        max_length: 10
      - id: dept_fk
        kind: foreign_key
        entity: scott.dept
        nullable: false
        references:
          - id: deptno
            type: int
      - id: job
        kind: value_list
        type: string
        items:
          - {value: CLERK, caption: Clerk}
          - {value: MANAGER, caption: Manager}
      - id: sal
        type: float64
        min: 1000
        max: 10000
        max_fraction_digits: 2
        default: 1000
      - id: location
        kind: denormalized
        type: string
        foreign_key: dept_fk
        source: loc
      - id: updated
        kind: audit
        action: update_time
`

func loadScott(t *testing.T) *Domain {
	t.Helper()
	id := "test/" + t.Name()
	d, err := Load(strings.NewReader(strings.Replace(scottYAML, "%s", id, 1)))
	require.NoError(t, err)
	t.Cleanup(func() { Unregister(id) })
	return d
}

func TestLoad(t *testing.T) {
	t.Parallel()
	d := loadScott(t)

	s := d.Settings()
	assert.Equal(t, 4, s.MaxFractionDigits)
	assert.Equal(t, 2, s.FetchDepth)
	assert.Equal(t, "%", s.Wildcard, "unset settings keep their defaults")

	dept := d.MustDefinition(deptID)
	assert.Equal(t, "dept", dept.Table())
	assert.True(t, dept.SmallDataset())
	assert.Equal(t, "dname", dept.OrderBy().String())

	emp := d.MustDefinition(empID)
	assert.Equal(t, []string{"ename", "job"}, emp.SearchProperties())
	assert.Equal(t, "dept_fk, sal DESC", emp.OrderBy().String())
	clause, err := emp.OrderBy().Clause(emp)
	require.NoError(t, err)
	assert.Equal(t, []string{"deptno", "sal DESC"}, clause)

	fk, ok := emp.ForeignKey("dept_fk")
	require.True(t, ok)
	assert.False(t, fk.Nullable())
	require.Len(t, fk.References(), 1)
	assert.Equal(t, "deptno", fk.References()[0].ColumnName())

	sal := emp.MustProperty("sal")
	assert.Equal(t, 1000.0, sal.Default())
	lo, ok := sal.Min()
	assert.True(t, ok)
	assert.Equal(t, 1000.0, lo)

	job, ok := emp.MustProperty("job").(*ValueListProperty)
	require.True(t, ok)
	assert.Len(t, job.Items(), 2)
	assert.Equal(t, "Clerk", job.ItemCaption("CLERK"))

	audit, ok := emp.MustProperty("updated").(*AuditProperty)
	require.True(t, ok)
	assert.Equal(t, AuditUpdateTime, audit.Action())
	assert.True(t, audit.ReadOnly())

	q := &fakeQuerier{dialect: "postgres", next: 1}
	e := d.MustEntity(empID)
	require.NoError(t, emp.KeyGenerator().BeforeInsert(t.Context(), e, q))
	assert.Equal(t, []string{"SELECT COALESCE(MAX(empno), 0) + 1 FROM emp"}, q.queries)

	e.MustPut("dept_fk", d.MustEntity(deptID).MustPut("deptno", 10).MustPut("dname", "A").MustPut("loc", "B"))
	assert.Equal(t, "B", e.Get("location"))
	assert.Equal(t, "A", e.ForeignKey("dept_fk").String())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	id := "test/" + t.Name()
	path := filepath.Join(t.TempDir(), "domain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(scottYAML, "%s", id, 1)), 0o600))
	defer Unregister(id)

	d, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, d.Contains(empID))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"NoID", "entities: []", "missing domain id"},
		{"Syntax", "id: [", "decode"},
		{"UnknownType", "id: x\nentities:\n  - id: a\n    properties:\n      - {id: id, kind: primary_key, type: money}", "money"},
		{"UnknownKind", "id: x\nentities:\n  - id: a\n    properties:\n      - {id: id, kind: blob_column, type: int}", "blob_column"},
		{"UnknownGenerator", "id: x\nentities:\n  - id: a\n    key_generator: {type: uuid}\n    properties:\n      - {id: id, kind: primary_key, type: int}", "uuid"},
		{"UndefinedReference", "id: x\nentities:\n  - id: a\n    properties:\n      - {id: id, kind: primary_key, type: int}\n      - {id: b_fk, kind: foreign_key, entity: b, references: [{id: b_id, type: int}]}", "not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	Unregister("x")
}
