// Package cli implements the storemesh command line: running the
// consistency workers, migrating backends, and operating the task queue
// and its dead letters.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/engine"
	"github.com/pricetrack/storemesh/store"
)

// app carries the state shared by every subcommand.
type app struct {
	logFormat string
	logLevel  string
	backends  backendFlags
	cfg       storemesh.Config
	logger    *slog.Logger
	logOut    io.Writer
}

// RootCmd returns the storemesh root command with all subcommands attached.
func RootCmd() *cobra.Command {
	a := &app{
		backends: defaultBackendFlags(),
		cfg:      loadConfig(),
		logOut:   os.Stderr,
	}

	cmd := &cobra.Command{
		Use:   "storemesh",
		Short: "Consistency layer for price records across Postgres, MongoDB and Redis",
		Long: `storemesh runs the background workers that keep shop statistics, query
caches and price alerts consistent with submitted price records, and
operates the task queue behind them.

Every flag can also be set through a STOREMESH_* environment variable,
for example STOREMESH_REDIS_ADDR or STOREMESH_CONCURRENCY. Flags win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(a.logOut, a.logFormat, a.logLevel)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.logFormat, "log-format", getenv("LOG_FORMAT", "text"), "log format: text or json")
	pf.StringVar(&a.logLevel, "log-level", getenv("LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	pf.StringVar(&a.backends.MongoURI, "mongo-uri", a.backends.MongoURI, "MongoDB URI for price records (empty: in-memory)")
	pf.StringVar(&a.backends.MongoDB, "mongo-db", a.backends.MongoDB, "MongoDB database name")
	pf.StringVar(&a.backends.PostgresDSN, "postgres-dsn", a.backends.PostgresDSN, "PostgreSQL DSN for reference data and notifications")
	pf.StringVar(&a.backends.SQLitePath, "sqlite-path", a.backends.SQLitePath, "SQLite file for reference data and notifications")
	pf.StringVar(&a.backends.RedisAddr, "redis-addr", a.backends.RedisAddr, "Redis address for the cache and task queue (empty: in-memory)")
	pf.IntVar(&a.backends.RedisDB, "redis-db", a.backends.RedisDB, "Redis database number")

	cmd.AddCommand(a.serveCmd())
	cmd.AddCommand(a.migrateCmd())
	cmd.AddCommand(a.pingCmd())
	cmd.AddCommand(a.queueCmd())
	cmd.AddCommand(a.dlqCmd())

	return cmd
}

// open connects the backends and builds an engine over them. Closing the
// returned set releases the backends.
func (a *app) open(ctx context.Context, extra ...engine.Option) (*engine.Engine, *store.Set, error) {
	set, err := openBackends(ctx, a.backends, a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	opts := append(set.EngineOptions(),
		engine.WithConfig(a.cfg),
		engine.WithLogger(a.logger),
	)
	opts = append(opts, extra...)
	eng, err := engine.New(opts...)
	if err != nil {
		_ = set.Close()
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	return eng, set, nil
}
