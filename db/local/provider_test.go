package local

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/database/pool"
	"github.com/syssam/relmap/db"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	ctx := context.Background()
	d := newDatabase(t)
	setup, err := d.Connect(ctx, scott)
	require.NoError(t, err)
	require.NoError(t, setup.ExecuteBatch(ctx, schema...))
	require.NoError(t, setup.Disconnect())

	s := pool.DefaultSettings()
	s.MinSize, s.MaxSize = 1, 2
	s.CleanupInterval = time.Hour
	p, err := pool.New(ctx, pool.NewProvider(d, scott), s)
	require.NoError(t, err)
	provider := NewProvider(newScott(t), p)
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newProvider(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Do(ctx, func(ctx context.Context, c db.EntityConnection) error {
				_, err := c.SelectByKey(ctx, c.Domain().MustKey(empID, 7839))
				return err
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	stats := p.Pool().Statistics(time.Time{})
	assert.Equal(t, 4, stats.Requests)
	assert.Zero(t, stats.InUse)
	assert.LessOrEqual(t, stats.Size, 2)
}

func TestProviderTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newProvider(t)

	err := p.Do(ctx, func(ctx context.Context, c db.EntityConnection) error {
		require.NoError(t, c.BeginTransaction(ctx))
		_, err := c.UpdateWhere(ctx, empID, nil, map[string]any{"sal": 0})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, relmap.ErrTxStarted)

	err = p.Do(ctx, func(ctx context.Context, c db.EntityConnection) error {
		zero, err := c.RowCount(ctx, empID, condition.EQ("sal", 0))
		require.NoError(t, err)
		assert.Zero(t, zero, "the open transaction was rolled back")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, p.Pool().Statistics(time.Time{}).InUse)

	failure := errors.New("failure")
	err = p.Do(ctx, func(ctx context.Context, c db.EntityConnection) error {
		e := c.Domain().MustEntity(deptID).MustPut("deptno", 50).MustPut("dname", "RESEARCH II")
		if _, err := c.Insert(ctx, e); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)
}
