package sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/relmap/dialect"
)

// Kind classifies a statement by its leading keyword.
type Kind uint8

// Statement kinds.
const (
	KindOther Kind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "other"
	}
}

// KindOf returns the kind of the given statement, ignoring leading
// whitespace and letter case.
func KindOf(query string) Kind {
	query = strings.TrimLeft(query, " \t\r\n(")
	if len(query) == 0 {
		return KindOther
	}
	switch query[0] {
	case 's', 'S':
		return KindSelect
	case 'i', 'I':
		return KindInsert
	case 'u', 'U':
		return KindUpdate
	case 'd', 'D':
		return KindDelete
	}
	return KindOther
}

// QueryStats holds query execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of exec statements executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing queries.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of queries exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of query errors.
	Errors atomic.Int64
	// Per kind statement counts.
	Selects atomic.Int64
	Inserts atomic.Int64
	Updates atomic.Int64
	Deletes atomic.Int64
	Others  atomic.Int64

	mu       sync.Mutex
	rateAt   time.Time
	rateBase StatsSnapshot
}

// Record counts one statement.
func (s *QueryStats) Record(query string, isQuery bool, duration time.Duration, err error) {
	if isQuery {
		s.TotalQueries.Add(1)
	} else {
		s.TotalExecs.Add(1)
	}
	s.TotalDuration.Add(int64(duration))
	if err != nil {
		s.Errors.Add(1)
	}
	switch KindOf(query) {
	case KindSelect:
		s.Selects.Add(1)
	case KindInsert:
		s.Inserts.Add(1)
	case KindUpdate:
		s.Updates.Add(1)
	case KindDelete:
		s.Deletes.Add(1)
	default:
		s.Others.Add(1)
	}
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
		Selects:       s.Selects.Load(),
		Inserts:       s.Inserts.Load(),
		Updates:       s.Updates.Load(),
		Deletes:       s.Deletes.Load(),
		Others:        s.Others.Load(),
	}
}

// Rates returns the per second statement rates since the previous call,
// or since the first statement on the first call.
func (s *QueryStats) Rates() Rates {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cur := s.Stats()
	base, at := s.rateBase, s.rateAt
	s.rateBase, s.rateAt = cur, now
	if at.IsZero() {
		return Rates{}
	}
	secs := now.Sub(at).Seconds()
	if secs <= 0 {
		return Rates{}
	}
	per := func(a, b int64) float64 { return float64(a-b) / secs }
	return Rates{
		Queries: per(cur.TotalQueries+cur.TotalExecs, base.TotalQueries+base.TotalExecs),
		Selects: per(cur.Selects, base.Selects),
		Inserts: per(cur.Inserts, base.Inserts),
		Updates: per(cur.Updates, base.Updates),
		Deletes: per(cur.Deletes, base.Deletes),
		Others:  per(cur.Others, base.Others),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
	s.Selects.Store(0)
	s.Inserts.Store(0)
	s.Updates.Store(0)
	s.Deletes.Store(0)
	s.Others.Store(0)
	s.mu.Lock()
	s.rateBase, s.rateAt = StatsSnapshot{}, time.Time{}
	s.mu.Unlock()
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
	Selects       int64
	Inserts       int64
	Updates       int64
	Deletes       int64
	Others        int64
}

// AvgQueryDuration returns the average query duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d select=%d insert=%d update=%d delete=%d other=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors, s.Selects, s.Inserts, s.Updates, s.Deletes, s.Others,
	)
}

// Rates holds per second statement rates.
type Rates struct {
	Queries float64
	Selects float64
	Inserts float64
	Updates float64
	Deletes float64
	Others  float64
}

// SlowQueryHook is called with every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

type recorder struct {
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// StatsOption configures statistics collection.
type StatsOption func(*recorder)

// WithSlowThreshold sets the duration above which statements count as
// slow, 100ms by default.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(r *recorder) {
		r.slowThreshold = d
	}
}

// WithSlowQueryHook sets the function called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(r *recorder) {
		r.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level, on the default
// logger when l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		logger := l
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "slow query", "duration", duration, "query", query, "args", args)
	})
}

// WithQueryStats collects into stats, letting connections share counters.
func WithQueryStats(stats *QueryStats) StatsOption {
	return func(r *recorder) {
		if stats != nil {
			r.stats = stats
		}
	}
}

func newRecorder(opts []StatsOption) *recorder {
	r := &recorder{
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *recorder) record(ctx context.Context, query string, args any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	r.stats.Record(query, isQuery, duration, err)
	if r.slowThreshold <= 0 || duration <= r.slowThreshold {
		return
	}
	r.stats.SlowQueries.Add(1)
	if r.slowHook != nil {
		argv, _ := args.([]any)
		r.slowHook(ctx, query, argv, duration)
	}
}

// StatsConn records the statements run through an ExecQuerier.
type StatsConn struct {
	dialect.ExecQuerier
	rec *recorder
}

var _ dialect.ExecQuerier = (*StatsConn)(nil)

// NewStatsConn wraps ex with statistics collection.
func NewStatsConn(ex dialect.ExecQuerier, opts ...StatsOption) *StatsConn {
	return &StatsConn{ExecQuerier: ex, rec: newRecorder(opts)}
}

// QueryStats returns the statistics recorded into.
func (c *StatsConn) QueryStats() *QueryStats {
	return c.rec.stats
}

// Query runs a query and records it.
func (c *StatsConn) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := c.ExecQuerier.Query(ctx, query, args, v)
	c.rec.record(ctx, query, args, start, err, true)
	return err
}

// Exec runs a statement and records it.
func (c *StatsConn) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := c.ExecQuerier.Exec(ctx, query, args, v)
	c.rec.record(ctx, query, args, start, err, false)
	return err
}
