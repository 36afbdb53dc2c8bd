package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/syssam/relmap/cache/rediscache"
	"github.com/syssam/relmap/config"
	"github.com/syssam/relmap/database"
	"github.com/syssam/relmap/database/pool"
	"github.com/syssam/relmap/db/local"
	dsql "github.com/syssam/relmap/dialect/sql"
	"github.com/syssam/relmap/domain"
)

// app holds what the commands share, opened from the configuration file.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	dom      *domain.Domain
	db       *database.Database
	pool     *pool.Pool
	cache    *rediscache.Cache
	provider *local.Provider
}

func openApp(ctx context.Context, path string, logOut io.Writer) (_ *app, err error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger(logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.Close())
		}
	}()
	if a.dom, err = cfg.LoadDomain(); err != nil {
		return nil, err
	}
	opts := []database.Option{database.WithLogger(logger)}
	if cfg.SlowQuery > 0 {
		opts = append(opts, database.WithStatsOptions(dsql.WithSlowThreshold(cfg.SlowQuery), dsql.WithSlowQueryLog(logger)))
	}
	if cfg.MethodLogSize > 0 {
		opts = append(opts, database.WithMethodLogSize(cfg.MethodLogSize))
	}
	if a.db, err = database.New(cfg.Database, opts...); err != nil {
		return nil, err
	}
	registerOperations(a.db.Operations(), cfg)
	a.pool, err = pool.New(ctx, pool.NewProvider(a.db, cfg.DatabaseUser()), cfg.Pool, pool.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", a.db, err)
	}
	entityOpts := []local.Option{
		local.WithLogger(logger),
		local.WithOptimisticLocking(cfg.Entity.OptimisticLocking),
		local.WithLimitFetchDepth(cfg.Entity.LimitFetchDepth),
	}
	if cfg.Entity.Validate {
		entityOpts = append(entityOpts, local.WithValidation())
	}
	if cfg.Cache.URL != "" {
		var cacheOpts []rediscache.Option
		if cfg.Cache.Prefix != "" {
			cacheOpts = append(cacheOpts, rediscache.WithPrefix(cfg.Cache.Prefix))
		}
		if a.cache, err = rediscache.Open(ctx, cfg.Cache.URL, cacheOpts...); err != nil {
			return nil, err
		}
		entityOpts = append(entityOpts, local.WithCache(a.cache, cfg.Cache.TTL))
	}
	a.provider = local.NewProvider(a.dom, a.pool, entityOpts...)
	return a, nil
}

// connection checks out a database connection, returned by release.
func (a *app) connection(ctx context.Context) (*database.Connection, func() error, error) {
	conn, err := a.pool.Connection(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() error { return a.pool.Return(ctx, conn) }, nil
}

func (a *app) Close() error {
	var errs []error
	if a.pool != nil {
		a.pool.Close()
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Client().Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.dom != nil {
		domain.Unregister(a.dom.ID())
	}
	return errors.Join(errs...)
}

// registerOperations adds the configured SQL functions and procedures.
func registerOperations(ops *database.Operations, cfg *config.Config) {
	for id, query := range cfg.Functions {
		ops.AddFunction(id, func(ctx context.Context, c *database.Connection, args ...any) (any, error) {
			rows, err := c.QueryObjects(ctx, query, 1, args...)
			if err != nil || len(rows) == 0 || len(rows[0]) == 0 {
				return nil, err
			}
			return rows[0][0], nil
		})
	}
	for id, query := range cfg.Procedures {
		ops.AddProcedure(id, func(ctx context.Context, c *database.Connection, args ...any) error {
			_, err := c.Execute(ctx, query, args...)
			return err
		})
	}
}
