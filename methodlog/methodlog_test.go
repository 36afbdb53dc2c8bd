package methodlog

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabled(t *testing.T) {
	t.Parallel()

	l := New()
	assert.False(t, l.IsEnabled())
	l.Access("select", 1)
	e, err := l.Exit("select", nil, "")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Zero(t, l.Len())
}

func TestNested(t *testing.T) {
	t.Parallel()

	l := New(Enabled(true))
	l.Access("update", "emp")
	l.Access("selectForUpdate", "empno:1")
	sub, err := l.Exit("selectForUpdate", nil, "1 row")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "empno:1", sub.AccessMessage)
	assert.Zero(t, l.Len(), "sub entries are not root entries")

	root, err := l.Exit("update", errors.New("locked"), "")
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	assert.Same(t, root, l.Last())
	require.Len(t, root.SubEntries, 1)
	assert.Same(t, sub, root.SubEntries[0])
	assert.Equal(t, "locked", root.Error)
	assert.True(t, root.Complete())
	assert.GreaterOrEqual(t, root.Duration(), sub.Duration())

	out := l.String()
	assert.Contains(t, out, "@ update: emp")
	assert.Contains(t, out, "\t")
	assert.Contains(t, out, "(1 row)")
	assert.Contains(t, out, "error: locked")
}

func TestExitErrors(t *testing.T) {
	t.Parallel()

	l := New(Enabled(true))
	_, err := l.Exit("insert", nil, "")
	assert.ErrorIs(t, err, ErrEmptyCallStack)

	l.Access("insert")
	_, err = l.Exit("delete", nil, "")
	assert.ErrorIs(t, err, ErrMethodMismatch)
	assert.Contains(t, err.Error(), "expecting insert but got delete")
}

func TestMaxSize(t *testing.T) {
	t.Parallel()

	l := New(Enabled(true), WithMaxSize(3))
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		l.Access(m)
		_, err := l.Exit(m, nil, "")
		require.NoError(t, err)
	}
	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Method)
	assert.Equal(t, "e", entries[2].Method)
}

func TestSetEnabledClears(t *testing.T) {
	t.Parallel()

	l := New(Enabled(true))
	l.Access("a")
	_, _ = l.Exit("a", nil, "")
	l.Access("b")
	l.SetEnabled(true)
	assert.Zero(t, l.Len())
	_, err := l.Exit("b", nil, "")
	assert.ErrorIs(t, err, ErrEmptyCallStack)
	l.SetEnabled(false)
	assert.False(t, l.IsEnabled())
	assert.Nil(t, l.Last())
}

func TestFormatter(t *testing.T) {
	t.Parallel()

	l := New(Enabled(true), WithFormatter(ArgumentFormatterFunc(func(a any) string {
		if s, ok := a.(string); ok {
			return strings.ToUpper(s)
		}
		return "?"
	})))
	l.Access("select", "emp", 42)
	e, err := l.Exit("select", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "EMP, ?", e.AccessMessage)

	l.SetFormatter(nil)
	l.Access("select", "emp", 42)
	e, err = l.Exit("select", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "emp, 42", e.AccessMessage)
}

func TestIncompleteFormat(t *testing.T) {
	t.Parallel()

	e := &Entry{Method: "select", AccessMessage: "dept"}
	assert.False(t, e.Complete())
	assert.Zero(t, e.Duration())
	assert.True(t, strings.HasSuffix(e.Format(1), "@ select: dept"))
	assert.True(t, strings.HasPrefix(e.Format(1), "\t"))
}

func TestLogValue(t *testing.T) {
	t.Parallel()

	l := New(Enabled(true))
	l.Access("delete", "empno:7")
	e, err := l.Exit("delete", errors.New("fk"), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("call", "entry", e)
	assert.Contains(t, buf.String(), "entry.method=delete")
	assert.Contains(t, buf.String(), "entry.error=fk")
}

func TestMarshal(t *testing.T) {
	t.Parallel()

	l := New(Enabled(true))
	l.Access("outer")
	l.Access("inner", 1)
	_, _ = l.Exit("inner", nil, "done")
	_, _ = l.Exit("outer", nil, "")

	data, err := Marshal(l.Entries())
	require.NoError(t, err)
	entries, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].SubEntries, 1)
	assert.Equal(t, "done", entries[0].SubEntries[0].ExitMessage)
	assert.True(t, entries[0].AccessTime.Equal(l.Last().AccessTime))

	_, err = Unmarshal([]byte{0xc1})
	assert.Error(t, err)
}
