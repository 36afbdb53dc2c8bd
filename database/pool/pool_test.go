package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/syssam/relmap/database"
	"github.com/syssam/relmap/dialect"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testProvider struct {
	*DatabaseProvider
	mu        sync.Mutex
	err       error
	connects  int
	destroyed int
}

func (p *testProvider) Connect(ctx context.Context) (*database.Connection, error) {
	p.mu.Lock()
	err := p.err
	p.connects++
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.DatabaseProvider.Connect(ctx)
}

func (p *testProvider) Destroy(c *database.Connection) error {
	p.mu.Lock()
	p.destroyed++
	p.mu.Unlock()
	return p.DatabaseProvider.Destroy(c)
}

func (p *testProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func newProvider(t *testing.T) *testProvider {
	t.Helper()
	db, err := database.New(database.Config{Dialect: dialect.SQLite})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &testProvider{DatabaseProvider: NewProvider(db, database.User{Username: "scott"})}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.MinSize, s.MaxSize = 1, 2
	s.MaxCheckOutTime = 100 * time.Millisecond
	s.NewConnectionThreshold = 10 * time.Millisecond
	s.MaxRetryWait = 2 * time.Millisecond
	s.CleanupInterval = time.Hour
	return s
}

func newPool(t *testing.T, s Settings) (*Pool, *testProvider) {
	t.Helper()
	provider := newProvider(t)
	p, err := New(context.Background(), provider, s)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, provider
}

func TestPoolCheckOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, _ := newPool(t, testSettings())

	s := p.Statistics(time.Time{})
	assert.Equal(t, 1, s.Available)
	assert.Equal(t, 1, s.ConnectionsCreated)
	assert.Equal(t, "scott", s.User)

	c1, err := p.Connection(ctx)
	require.NoError(t, err)
	assert.Zero(t, c1.RetryCount())

	c2, err := p.Connection(ctx)
	require.NoError(t, err, "a new connection is created past the threshold")
	assert.NotSame(t, c1, c2)
	assert.Positive(t, c2.RetryCount())

	_, err = p.Connection(ctx)
	assert.ErrorIs(t, err, ErrNoConnection)
	var nce *NoConnectionError
	require.ErrorAs(t, err, &nce)
	assert.Positive(t, nce.Retries)
	assert.GreaterOrEqual(t, nce.Elapsed, 100*time.Millisecond)

	require.NoError(t, p.Return(ctx, c1))
	assert.False(t, c1.PoolTime().IsZero())
	c3, err := p.Connection(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c3)

	s = p.Statistics(time.Time{})
	assert.Equal(t, 2, s.Size)
	assert.Equal(t, 2, s.InUse)
	assert.Equal(t, 4, s.Requests)
	assert.Equal(t, 2, s.Delayed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.ConnectionsCreated)
	assert.LessOrEqual(t, s.MinimumCheckOutTime, s.AverageCheckOutTime)
	assert.LessOrEqual(t, s.AverageCheckOutTime, s.MaximumCheckOutTime)
}

func TestPoolBelowMinimum(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testSettings()
	s.NewConnectionThreshold = 90 * time.Millisecond
	p, _ := newPool(t, s)

	c, err := p.Connection(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Disconnect())
	require.NoError(t, p.Return(ctx, c))
	require.Zero(t, p.Statistics(time.Time{}).Size)

	start := time.Now()
	c, err = p.Connection(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), s.NewConnectionThreshold, "created at once below the minimum size")
	require.NoError(t, p.Return(ctx, c))
}

func TestPoolWaitsForReturn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testSettings()
	s.MaxSize = 1
	p, _ := newPool(t, s)

	c, err := p.Connection(ctx)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, p.Return(ctx, c))
	}()
	got, err := p.Connection(ctx)
	require.NoError(t, err)
	<-done
	assert.Same(t, c, got)
	assert.Positive(t, got.RetryCount())
}

func TestPoolCanceled(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.MaxSize = 1
	s.MaxCheckOutTime = time.Minute
	s.NewConnectionThreshold = time.Second
	p, _ := newPool(t, s)

	_, err := p.Connection(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Connection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.Statistics(time.Time{}).Failed)
}

func TestPoolReturn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, provider := newPool(t, testSettings())

	c, err := p.Connection(ctx)
	require.NoError(t, err)
	require.NoError(t, c.BeginTransaction(ctx))
	assert.ErrorIs(t, p.Return(ctx, c), ErrTxOpen)
	require.NoError(t, c.RollbackTransaction())

	require.NoError(t, c.Disconnect())
	require.NoError(t, p.Return(ctx, c))
	s := p.Statistics(time.Time{})
	assert.Equal(t, 1, s.ConnectionsDestroyed)
	assert.Zero(t, s.Size)
	assert.Equal(t, 1, provider.destroyed)
}

func TestPoolInvalidIdle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testSettings()
	s.NewConnectionThreshold = 0
	p, _ := newPool(t, s)

	c, err := p.Connection(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Return(ctx, c))
	require.NoError(t, c.Disconnect())

	got, err := p.Connection(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c, got)
	assert.True(t, got.IsValid(ctx))
	assert.Equal(t, 1, p.Statistics(time.Time{}).ConnectionsDestroyed)
}

func TestPoolCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testSettings()
	s.MaxSize = 3
	s.NewConnectionThreshold = 0
	s.IdleTimeout = time.Millisecond
	s.CleanupInterval = 5 * time.Millisecond
	p, _ := newPool(t, s)

	var conns []*database.Connection
	for range 3 {
		c, err := p.Connection(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		require.NoError(t, p.Return(ctx, c))
	}
	require.Eventually(t, func() bool {
		return p.Statistics(time.Time{}).Size == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, p.Statistics(time.Time{}).ConnectionsDestroyed)
}

func TestPoolClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, provider := newPool(t, testSettings())

	c, err := p.Connection(ctx)
	require.NoError(t, err)
	p.SetEnabled(false)
	assert.False(t, p.IsEnabled())
	_, err = p.Connection(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, p.Return(ctx, c))
	assert.False(t, c.IsConnected(), "returned to a closed pool")
	assert.Equal(t, 1, provider.destroyed)

	p.SetEnabled(true)
	c, err = p.Connection(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Return(ctx, c))
	p.Close()
	p.Close()
}

func TestPoolInitializeFailure(t *testing.T) {
	t.Parallel()
	provider := newProvider(t)
	provider.fail(errors.New("connection refused"))
	s := testSettings()
	s.MinSize = 2
	_, err := New(context.Background(), provider, s)
	assert.ErrorContains(t, err, "connection refused")

	s.MaxSize = 0
	_, err = New(context.Background(), provider, s)
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestPoolCreateFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testSettings()
	s.NewConnectionThreshold = 0
	p, provider := newPool(t, s)

	_, err := p.Connection(ctx)
	require.NoError(t, err)
	provider.fail(errors.New("too many connections"))
	_, err = p.Connection(ctx)
	assert.ErrorContains(t, err, "too many connections")
	assert.Equal(t, 1, p.Statistics(time.Time{}).Failed)
}

func TestPoolStatistics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testSettings()
	s.FineGrainedStatistics = true
	p, _ := newPool(t, s)

	for range 3 {
		c, err := p.Connection(ctx)
		require.NoError(t, err)
		require.NoError(t, p.Return(ctx, c))
	}
	st := p.Statistics(time.Time{})
	require.Len(t, st.States, 3)
	assert.Equal(t, State{Time: st.States[0].Time, Available: 1}, st.States[0])
	assert.Empty(t, p.Statistics(time.Now().Add(time.Minute)).States)
	assert.Contains(t, st.String(), "requests=3")

	p.ResetStatistics()
	st = p.Statistics(time.Time{})
	assert.Zero(t, st.Requests)
	assert.Zero(t, st.ConnectionsCreated)
	assert.Equal(t, 1, st.Size)
	assert.True(t, st.Reset.After(st.Created))
}

func TestPoolUpdate(t *testing.T) {
	t.Parallel()
	p, _ := newPool(t, testSettings())

	require.NoError(t, p.Update(func(s *Settings) error { return s.SetMaxSize(4) }))
	require.NoError(t, p.Update(func(s *Settings) error { return s.SetMinSize(3) }))
	assert.Equal(t, 3, p.Settings().MinSize)
	assert.ErrorIs(t, p.Update(func(s *Settings) error { return s.SetMaxSize(2) }), ErrInvalidSettings)
	assert.Equal(t, 4, p.Settings().MaxSize)

	s := p.Settings()
	s.CleanupInterval = time.Minute
	require.NoError(t, p.Apply(s))
	s.CleanupInterval = 0
	assert.ErrorIs(t, p.Apply(s), ErrInvalidSettings)
}

func TestSettings(t *testing.T) {
	t.Parallel()
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, 4, s.MinSize)
	assert.Equal(t, 8, s.MaxSize)

	tests := []struct {
		name string
		set  func(*Settings) error
		ok   bool
	}{
		{"MinNegative", func(s *Settings) error { return s.SetMinSize(-1) }, false},
		{"MinAboveMax", func(s *Settings) error { return s.SetMinSize(9) }, false},
		{"MinZero", func(s *Settings) error { return s.SetMinSize(0) }, true},
		{"MaxZero", func(s *Settings) error { return s.SetMaxSize(0) }, false},
		{"MaxBelowMin", func(s *Settings) error { return s.SetMaxSize(3) }, false},
		{"MaxEqualMin", func(s *Settings) error { return s.SetMaxSize(4) }, true},
		{"CheckOutNegative", func(s *Settings) error { return s.SetMaxCheckOutTime(-time.Second) }, false},
		{"ThresholdAboveCheckOut", func(s *Settings) error { return s.SetNewConnectionThreshold(2 * time.Second) }, false},
		{"Threshold", func(s *Settings) error { return s.SetNewConnectionThreshold(time.Second) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := DefaultSettings()
			err := tt.set(&s)
			if tt.ok {
				require.NoError(t, err)
				assert.NoError(t, s.Validate())
				return
			}
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

func TestSettingsYAML(t *testing.T) {
	t.Parallel()
	s := DefaultSettings()
	err := yaml.Unmarshal([]byte(`
min_size: 2
max_size: 16
idle_timeout: 5m
max_check_out_time: 3s
fine_grained_statistics: true
`), &s)
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Equal(t, 2, s.MinSize)
	assert.Equal(t, 16, s.MaxSize)
	assert.Equal(t, 5*time.Minute, s.IdleTimeout)
	assert.Equal(t, 3*time.Second, s.MaxCheckOutTime)
	assert.Equal(t, DefaultCleanupInterval, s.CleanupInterval)
	assert.True(t, s.FineGrainedStatistics)
}
