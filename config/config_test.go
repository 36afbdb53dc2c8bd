package config

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	_ "modernc.org/sqlite"

	"github.com/syssam/relmap/database"
	"github.com/syssam/relmap/database/pool"
	"github.com/syssam/relmap/dialect"
	"github.com/syssam/relmap/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const scott = `
database:
  dialect: sqlite
  name: ${SCOTT_DB:-scott.db}
user:
  username: scott
  password: ${SCOTT_PASSWORD}
pool:
  max_size: 16
  idle_timeout: 2m
domain: scott.yaml
entity:
  optimistic_locking: false
log:
  level: debug
  format: json
slow_query: 250ms
`

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("SCOTT_PASSWORD", "tiger")
	t.Setenv("SCOTT_DB", "")
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "relmap.yaml", scott))
	require.NoError(t, err)

	assert.Equal(t, dialect.SQLite, cfg.Database.Dialect)
	assert.Equal(t, "scott.db", cfg.Database.Name)
	assert.Equal(t, database.User{Username: "scott", Password: "tiger"}, cfg.DatabaseUser())
	assert.Equal(t, 16, cfg.Pool.MaxSize)
	assert.Equal(t, pool.DefaultMinSize, cfg.Pool.MinSize)
	assert.Equal(t, 2*time.Minute, cfg.Pool.IdleTimeout)
	assert.Equal(t, pool.DefaultMaxCheckOutTime, cfg.Pool.MaxCheckOutTime)
	assert.False(t, cfg.Entity.OptimisticLocking)
	assert.True(t, cfg.Entity.LimitFetchDepth)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowQuery)
	assert.Equal(t, filepath.Join(dir, "scott.yaml"), cfg.DomainPath())
	assert.Equal(t, filepath.Join(dir, "relmap.yaml"), cfg.Path())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "Empty", data: "", want: "database.dialect is required"},
		{name: "NoUser", data: "database: {dialect: sqlite}", want: "user.username is required"},
		{name: "UnknownKey", data: "database: {dialect: sqlite}\nusers: {}", want: "field users not found"},
		{name: "Pool", data: "database: {dialect: sqlite, user: scott}\npool: {max_size: 2}", want: "pool"},
		{name: "Level", data: "database: {dialect: sqlite, user: scott}\nlog: {level: loud}", want: `log.level "loud"`},
		{name: "Format", data: "database: {dialect: sqlite, user: scott}\nlog: {format: xml}", want: `log.format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("RELMAP_HOST", "db.local")
	t.Setenv("RELMAP_EMPTY", "")
	assert.Equal(t, "db.local:5432", Expand("${RELMAP_HOST}:${RELMAP_PORT:-5432}"))
	assert.Equal(t, "fallback", Expand("${RELMAP_EMPTY:-fallback}"))
	assert.Equal(t, "", Expand("${RELMAP_UNSET}"))
	assert.Equal(t, "x-db.local", Expand("x-$RELMAP_HOST"))
}

func TestDatabaseUser(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte("database: {dialect: sqlite, user: scott, password: tiger}"))
	require.NoError(t, err)
	assert.Equal(t, database.User{Username: "scott", Password: "tiger"}, cfg.DatabaseUser())
	assert.Equal(t, "", cfg.Path())
	_, err = cfg.LoadDomain()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadDomain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scott.yaml", `
id: config/TestLoadDomain
entities:
  - id: scott.dept
    table: dept
    properties:
      - {id: deptno, kind: primary_key, type: int}
      - {id: dname, type: string}
`)
	cfg, err := Load(writeFile(t, dir, "relmap.yaml", "database: {dialect: sqlite, user: scott}\ndomain: scott.yaml\n"))
	require.NoError(t, err)
	dom, err := cfg.LoadDomain()
	require.NoError(t, err)
	t.Cleanup(func() { domain.Unregister(dom.ID()) })
	_, ok := dom.Definition("scott.dept")
	assert.True(t, ok)
}

func TestLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Format = "json"
	logger, err := cfg.Logger(&buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "entity", "scott.emp")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"entity":"scott.emp"`)

	buf.Reset()
	cfg.Log = Log{Level: "warn", Format: "text"}
	logger, err = cfg.Logger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	cfg.Log.Level = "loud"
	_, err = cfg.Logger(&buf)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "relmap.yaml", "database: {dialect: sqlite, user: scott}\npool: {max_size: 8}\n")
	changes := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { changes <- cfg }, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, 8, w.Config().Pool.MaxSize)

	writeFile(t, dir, "other.yaml", "ignored: true")
	writeFile(t, dir, "relmap.yaml", "database: {dialect: sqlite, user: scott}\npool: {max_size: 12}\n")
	select {
	case cfg := <-changes:
		assert.Equal(t, 12, cfg.Pool.MaxSize)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
	assert.Equal(t, 12, w.Config().Pool.MaxSize)

	// Invalid rewrites keep the last valid configuration.
	writeFile(t, dir, "relmap.yaml", "database: {dialect: sqlite, user: scott}\npool: {max_size: 1}\n")
	select {
	case cfg := <-changes:
		t.Fatalf("unexpected reload: %+v", cfg.Pool)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 12, w.Config().Pool.MaxSize)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatchMissing(t *testing.T) {
	t.Parallel()
	_, err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := database.New(database.Config{Dialect: dialect.SQLite, Name: filepath.Join(t.TempDir(), "scott.db")})
	require.NoError(t, err)
	defer db.Close()
	s := pool.DefaultSettings()
	s.MinSize = 0
	p, err := pool.New(ctx, pool.NewProvider(db, database.User{Username: "scott"}), s)
	require.NoError(t, err)
	defer p.Close()

	apply := ApplyPool(p, discard())
	cfg := Default()
	cfg.Pool.MinSize = 1
	cfg.Pool.MaxSize = 3
	apply(cfg)
	assert.Equal(t, 3, p.Settings().MaxSize)

	cfg.Pool.MaxSize = 0
	apply(cfg)
	assert.Equal(t, 3, p.Settings().MaxSize)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
