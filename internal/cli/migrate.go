package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema of the configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			set, err := openBackends(ctx, a.backends, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			if err := set.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema up to date\n", color.New(color.FgGreen).Sprint("✓"))
			return nil
		},
	}
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity of every configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, set, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			out := cmd.OutOrStdout()
			if err := eng.Ping(cmd.Context()); err != nil {
				fmt.Fprintf(out, "%s %v\n", color.New(color.FgRed).Sprint("✗"), err)
				return err
			}
			fmt.Fprintf(out, "%s all backends reachable\n", color.New(color.FgGreen).Sprint("✓"))
			return nil
		},
	}
}
