package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (a *app) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the derived task queue",
	}
	cmd.AddCommand(a.queueDepthCmd())
	return cmd
}

func (a *app) queueDepthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Show the number of pending and in-flight tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, set, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			depth, err := eng.InspectQueueDepth(ctx)
			if err != nil {
				return err
			}
			dead, err := eng.DLQService().Count(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queue depth:   %s\n", color.New(color.FgCyan).Sprint(depth))
			deadStr := color.New(color.FgGreen).Sprint(dead)
			if dead > 0 {
				deadStr = color.New(color.FgRed).Sprint(dead)
			}
			fmt.Fprintf(out, "Dead letters:  %s\n", deadStr)
			return nil
		},
	}
}
