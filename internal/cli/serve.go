package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	audithook "github.com/pricetrack/storemesh/audit_hook"
	"github.com/pricetrack/storemesh/engine"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		migrate bool
		audit   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consistency workers until interrupted",
		Long: `Run the worker pool that executes derived tasks: cache invalidation,
shop statistics and price alerts. Stops gracefully on SIGINT or SIGTERM,
waiting up to the shutdown timeout for in-flight tasks.

Examples:
  storemesh serve --redis-addr localhost:6379 --postgres-dsn postgres://localhost/pricetrack
  STOREMESH_CONCURRENCY=16 storemesh serve --migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var extra []engine.Option
			if audit {
				extra = append(extra, engine.WithExtension(
					audithook.New(audithook.NewLogRecorder(a.logger), audithook.WithLogger(a.logger)),
				))
			}
			eng, set, err := a.open(ctx, extra...)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			if migrate {
				if err := set.Migrate(ctx); err != nil {
					return err
				}
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("storemesh serving",
				slog.Int("concurrency", a.cfg.Concurrency),
				slog.Int("task_max_attempts", a.cfg.TaskMaxAttempts),
			)

			<-ctx.Done()
			a.logger.Info("shutting down")
			return eng.Stop(context.Background())
		},
	}

	f := cmd.Flags()
	f.BoolVar(&migrate, "migrate", false, "run schema migrations before starting")
	f.BoolVar(&audit, "audit", boolenv("AUDIT", false), "log an audit trail of record and task lifecycle events")
	f.IntVar(&a.cfg.Concurrency, "concurrency", a.cfg.Concurrency, "worker goroutines")
	f.IntVar(&a.cfg.TaskMaxAttempts, "task-max-attempts", a.cfg.TaskMaxAttempts, "deliveries before a task is dead-lettered")
	f.Float64Var(&a.cfg.NotifyRateLimit, "notify-rate", a.cfg.NotifyRateLimit, "NOTIFY tasks per second (0: unlimited)")
	f.DurationVar(&a.cfg.CacheTTL, "cache-ttl", a.cfg.CacheTTL, "lifetime of a cached query page")
	f.DurationVar(&a.cfg.ShutdownTimeout, "shutdown-timeout", a.cfg.ShutdownTimeout, "maximum wait for in-flight tasks on stop")

	return cmd
}
