package rediscache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relmap"
)

func newCache(t *testing.T, opts ...Option) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts...), mr
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	v, err := c.Get(ctx, "scott.dept:select@0")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Set(ctx, "scott.dept:select@0", []byte("depts"), time.Minute))
	v, err = c.Get(ctx, "scott.dept:select@0")
	require.NoError(t, err)
	assert.Equal(t, []byte("depts"), v)
	assert.True(t, mr.Exists("relmap:scott.dept:select@0"))
	assert.Equal(t, time.Minute, mr.TTL("relmap:scott.dept:select@0"))

	mr.FastForward(2 * time.Minute)
	v, err = c.Get(ctx, "scott.dept:select@0")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Set(ctx, "forever", []byte("x"), 0))
	assert.Zero(t, mr.TTL("relmap:forever"))
	require.NoError(t, c.Delete(ctx, "forever"))
	assert.False(t, mr.Exists("relmap:forever"))
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t, WithPrefix("test:"))
	for i := range 600 {
		require.NoError(t, c.Set(ctx, relmap.CacheKey{Entity: "scott.dept", Operation: fmt.Sprint("select@", i)}.String(), []byte{1}, 0))
	}
	require.NoError(t, c.Set(ctx, "scott.emp:select@0", []byte{2}, 0))
	require.NoError(t, c.Set(ctx, "scott.deptx:select@0", []byte{3}, 0))
	require.NoError(t, mr.Set("other", "kept"))

	require.NoError(t, c.DeletePrefix(ctx, relmap.CacheKey{Entity: "scott.dept"}.Prefix()))
	assert.ElementsMatch(t, []string{"other", "test:scott.deptx:select@0", "test:scott.emp:select@0"}, mr.Keys())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, []string{"other"}, mr.Keys())
}

func TestEscape(t *testing.T) {
	tests := map[string]string{
		"scott.emp:": "scott.emp:",
		"a*b":         `a\*b`,
		"[x]?":        `\[x\]\?`,
		`back\slash`: `back\\slash`,
	}
	for in, want := range tests {
		assert.Equal(t, want, escape(in), in)
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	mr.SetError("ERR injected")
	_, err := c.Get(ctx, "k")
	assert.ErrorContains(t, err, "rediscache: get k")
	assert.Error(t, c.Set(ctx, "k", nil, 0))
	assert.Error(t, c.DeletePrefix(ctx, "k"))
	mr.SetError("")

	_, err = Open(ctx, "not a url")
	assert.Error(t, err)
	opened, err := Open(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	assert.NoError(t, opened.Client().Close())
}
