package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/config"
	"github.com/syssam/relmap/db"
	"github.com/syssam/relmap/domain"
	"github.com/syssam/relmap/schema"
)

func newPingCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the database connection",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			conn, release, err := a.connection(ctx)
			if err != nil {
				return err
			}
			valid := conn.IsValid(ctx)
			if err := release(); err != nil {
				return err
			}
			if !valid {
				return fmt.Errorf("connection to %s is not valid", a.db)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s as %s\n", a.db, a.pool.User())
			return nil
		}),
	}
}

func newValidateCmd(run runner) *cobra.Command {
	var (
		skip          []string
		offline       bool
		allowUnmapped bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the domain against the database",
		Long: "Check the references between entity definitions and compare the mapped tables " +
			"and columns with the database. Breaking problems make the command fail.",
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			opts := []schema.ValidateOption{schema.SkipTables(skip...)}
			if allowUnmapped {
				opts = append(opts, schema.AllowUnmapped())
			}
			if offline {
				opts = append(opts, schema.SkipLive())
			}
			conn, release, err := a.connection(ctx)
			if err != nil {
				return err
			}
			result, err := schema.Validate(ctx, a.dom, conn, opts...)
			err = errors.Join(err, release())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			if result.HasBreakingChanges() {
				return errors.New("validation failed")
			}
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Tables left out of the database check")
	cmd.Flags().BoolVar(&offline, "offline", false, "Check the definitions only")
	cmd.Flags().BoolVar(&allowUnmapped, "allow-unmapped", false, "Do not report database columns no entity maps")
	return cmd
}

type selectFlags struct {
	where   []string
	orderBy []string
	limit   int
	offset  int
	depth   int
}

func (f *selectFlags) register(cmd *cobra.Command, paging bool) {
	cmd.Flags().StringArrayVarP(&f.where, "where", "w", nil, "Condition as property=value, property!=value or property~pattern")
	if !paging {
		return
	}
	cmd.Flags().StringSliceVar(&f.orderBy, "order-by", nil, "Properties to order by, prefixed with - for descending")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum number of entities")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "Number of entities skipped")
	cmd.Flags().IntVar(&f.depth, "depth", -1, "Maximum foreign key fetch depth, -1 for the domain default")
}

func (f *selectFlags) build(def *domain.Definition) (*condition.Select, error) {
	cond, err := parseWhere(def, f.where)
	if err != nil {
		return nil, err
	}
	sel := condition.Where(def.ID(), cond)
	sel.Limit, sel.Offset = f.limit, f.offset
	if f.depth >= 0 {
		sel.WithMaxFetchDepth(f.depth)
	}
	if len(f.orderBy) > 0 {
		sel.OrderBy = new(domain.OrderBy)
		for _, pid := range f.orderBy {
			if desc, ok := strings.CutPrefix(pid, "-"); ok {
				sel.OrderBy.Descending(desc)
			} else {
				sel.OrderBy.Ascending(pid)
			}
		}
	}
	return sel, nil
}

// parseWhere returns the conjunction of the property conditions in exprs,
// converting each value to the property type. The value null compares
// with null.
func parseWhere(def *domain.Definition, exprs []string) (condition.Condition, error) {
	var conds []condition.Condition
	for _, expr := range exprs {
		var (
			pid, raw string
			op       condition.Operator
		)
		switch i := strings.IndexAny(expr, "!=~"); {
		case i < 0:
			return nil, fmt.Errorf("invalid condition %q", expr)
		case strings.HasPrefix(expr[i:], "!="):
			pid, raw, op = expr[:i], expr[i+2:], condition.NotEqual
		case expr[i] == '~':
			pid, raw, op = expr[:i], expr[i+1:], condition.Like
		case expr[i] == '=':
			pid, raw, op = expr[:i], expr[i+1:], condition.Equal
		default:
			return nil, fmt.Errorf("invalid condition %q", expr)
		}
		pid = strings.TrimSpace(pid)
		p, ok := def.Property(pid)
		if !ok {
			return nil, fmt.Errorf("%s has no property %q", def.ID(), pid)
		}
		if _, ok := p.(*domain.ForeignKeyProperty); ok {
			return nil, fmt.Errorf("%s is a foreign key, use its reference columns", pid)
		}
		if strings.EqualFold(raw, "null") && op != condition.Like {
			if op == condition.Equal {
				conds = append(conds, condition.Null(pid))
			} else {
				conds = append(conds, condition.NotNull(pid))
			}
			continue
		}
		if op == condition.Like {
			conds = append(conds, condition.Matches(pid, raw))
			continue
		}
		value, err := p.Type().Convert(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pid, err)
		}
		conds = append(conds, condition.Property(pid, op, value))
	}
	if len(conds) == 0 {
		return nil, nil
	}
	return condition.And(conds...), nil
}

func newSelectCmd(run runner) *cobra.Command {
	var flags selectFlags
	cmd := &cobra.Command{
		Use:   "select <entity>",
		Short: "Select entities",
		Long:  "Select the entities matching the conditions and print their visible properties.",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			def, ok := a.dom.Definition(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrUndefinedEntity, args[0])
			}
			sel, err := flags.build(def)
			if err != nil {
				return err
			}
			var entities []*domain.Entity
			err = a.provider.Do(ctx, func(ctx context.Context, conn db.EntityConnection) (err error) {
				entities, err = conn.Select(ctx, sel)
				return err
			})
			if err != nil {
				return err
			}
			printEntities(cmd, def, entities)
			return nil
		}),
	}
	flags.register(cmd, true)
	return cmd
}

func printEntities(cmd *cobra.Command, def *domain.Definition, entities []*domain.Entity) {
	props := def.Visible()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	header := make([]string, len(props))
	for i, p := range props {
		header[i] = p.ID()
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, e := range entities {
		row := make([]string, len(props))
		for i, p := range props {
			row[i] = e.AsString(p.ID())
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", len(entities), def.ID())
}

func newCountCmd(run runner) *cobra.Command {
	var flags selectFlags
	cmd := &cobra.Command{
		Use:   "count <entity>",
		Short: "Count entities",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			def, ok := a.dom.Definition(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrUndefinedEntity, args[0])
			}
			cond, err := parseWhere(def, flags.where)
			if err != nil {
				return err
			}
			return a.provider.Do(ctx, func(ctx context.Context, conn db.EntityConnection) error {
				n, err := conn.RowCount(ctx, def.ID(), cond)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		}),
	}
	flags.register(cmd, false)
	return cmd
}

func newFunctionCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "function <id> [args...]",
		Short: "Run a database function",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			fnArgs := make([]any, len(args)-1)
			for i, arg := range args[1:] {
				fnArgs[i] = arg
			}
			return a.provider.Do(ctx, func(ctx context.Context, conn db.EntityConnection) error {
				v, err := conn.ExecuteFunction(ctx, args[0], fnArgs...)
				if err != nil {
					return err
				}
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		}),
	}
}

func newStatsCmd(run runner) *cobra.Command {
	var (
		requests    int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "stats <entity>",
		Short: "Count entities concurrently and report pool statistics",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if _, ok := a.dom.Definition(args[0]); !ok {
				return fmt.Errorf("%w: %s", domain.ErrUndefinedEntity, args[0])
			}
			start := time.Now()
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(max(concurrency, 1))
			for range requests {
				g.Go(func() error {
					return a.provider.Do(ctx, func(ctx context.Context, conn db.EntityConnection) error {
						_, err := conn.RowCount(ctx, args[0], nil)
						return err
					})
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			printStatistics(cmd, a, start)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&requests, "requests", "n", 100, "Number of counts")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Number of concurrent counts")
	return cmd
}

func printStatistics(cmd *cobra.Command, a *app, since time.Time) {
	stats := a.pool.Statistics(since)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "user\t%s\n", stats.User)
	fmt.Fprintf(w, "size\t%d (%d in use, %d available)\n", stats.Size, stats.InUse, stats.Available)
	fmt.Fprintf(w, "connections\t%d created, %d destroyed\n", stats.ConnectionsCreated, stats.ConnectionsDestroyed)
	fmt.Fprintf(w, "requests\t%d (%d delayed, %d failed)\n", stats.Requests, stats.Delayed, stats.Failed)
	fmt.Fprintf(w, "check out\tavg %s, min %s, max %s\n", stats.AverageCheckOutTime, stats.MinimumCheckOutTime, stats.MaximumCheckOutTime)
	fmt.Fprintf(w, "queries\t%s\n", a.db.QueryStats().Stats())
	w.Flush()
}

func newMonitorCmd(run runner, configFile *string) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Report pool statistics periodically",
		Long: "Keep the connection pool open and print its statistics every interval. Pool settings " +
			"are reloaded when the configuration file changes.",
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			w, err := config.Watch(*configFile, config.ApplyPool(a.pool, a.logger), config.WithWatchLogger(a.logger))
			if err != nil {
				return err
			}
			defer w.Close()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			since := time.Now()
			for n := 0; count <= 0 || n < count; n++ {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.pool.Statistics(since))
				since = time.Now()
			}
			return nil
		}),
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Reporting interval")
	cmd.Flags().IntVar(&count, "count", 0, "Number of reports, 0 until interrupted")
	return cmd
}
