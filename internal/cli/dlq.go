package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pricetrack/storemesh/dlq"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/task"
)

func (a *app) dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Operate dead-lettered tasks",
		Long: `Tasks land in the dead-letter queue when they fail with a non-retryable
error or exhaust their attempts. Fix the cause, then requeue them.`,
	}
	cmd.AddCommand(a.dlqListCmd())
	cmd.AddCommand(a.dlqShowCmd())
	cmd.AddCommand(a.dlqRequeueCmd())
	cmd.AddCommand(a.dlqPurgeCmd())
	return cmd
}

func (a *app) dlqListCmd() *cobra.Command {
	var (
		limit  int
		offset int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered tasks, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, set, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			entries, err := eng.DeadLetters(ctx, task.ListOpts{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			displayEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func (a *app) dlqShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one dead-lettered task with its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := id.ParseTaskID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, set, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			entry, err := eng.DLQService().Get(ctx, taskID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	}
}

func (a *app) dlqRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <task-id>...",
		Short: "Return dead-lettered tasks to the queue with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]id.TaskID, 0, len(args))
			for _, arg := range args {
				taskID, err := id.ParseTaskID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, taskID)
			}

			ctx := cmd.Context()
			eng, set, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			out := cmd.OutOrStdout()
			var failed int
			for _, taskID := range ids {
				if err := eng.Requeue(ctx, taskID); err != nil {
					failed++
					fmt.Fprintf(out, "%s %s: %v\n", color.New(color.FgRed).Sprint("✗"), taskID, err)
					continue
				}
				fmt.Fprintf(out, "%s %s requeued\n", color.New(color.FgGreen).Sprint("✓"), taskID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks not requeued", failed, len(ids))
			}
			return nil
		},
	}
}

func (a *app) dlqPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead-lettered tasks older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, set, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			n, err := eng.PurgeDeadLetters(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %s dead-lettered tasks\n", color.New(color.FgYellow).Sprint(n))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "purge entries dead-lettered before now minus this")
	return cmd
}

func displayEntries(w io.Writer, entries []*dlq.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, color.New(color.FgGreen).Sprint("No dead-lettered tasks"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK ID\tTYPE\tATTEMPTS\tDEAD-LETTERED\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			e.TaskID,
			e.Type,
			e.Attempts, e.MaxAttempts,
			e.DeadLetteredAt.Format(time.RFC3339),
			color.New(color.FgRed).Sprint(truncate(e.Error, 60)),
		)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
