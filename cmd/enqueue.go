package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <kind> [posting-id...]",
	Short: "Add postings to a queue",
	Long: `Add postings to a queue. Kinds are UPDATE, ANALYSIS_FIRST, ANALYSIS_FULL
or CHAIN:<chain id>. With --all every stored posting is a candidate.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := queue.ParseKind(args[0])
		if err != nil {
			return err
		}
		ids := args[1:]

		all, _ := cmd.Flags().GetBool("all")
		if all == (len(ids) > 0) {
			return errors.New("pass either posting ids or --all")
		}
		priority, _ := cmd.Flags().GetInt("priority")

		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		if !all {
			summary, err := a.queue.EnqueueIDs(ctx, kind, priority, ids)
			if err != nil {
				return err
			}
			return printJSON(summary)
		}

		filter := repository.PostingFilter{}
		filter.WithoutScore, _ = cmd.Flags().GetBool("unscored")
		filter.IncludeArchived, _ = cmd.Flags().GetBool("include-archived")
		if age, _ := cmd.Flags().GetDuration("synced-before"); age > 0 {
			before := time.Now().Add(-age)
			filter.SyncedBefore = &before
		}

		summary, err := a.queue.EnqueueBatch(ctx, kind, priority, func(ctx context.Context, offset, limit int) ([]string, error) {
			return a.postings.ListIDs(ctx, filter, offset, limit)
		})
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().Bool("all", false, "enqueue every stored posting matching the filters")
	enqueueCmd.Flags().Int("priority", 0, "item priority, higher runs first")
	enqueueCmd.Flags().Bool("unscored", false, "with --all, only postings without a score")
	enqueueCmd.Flags().Bool("include-archived", false, "with --all, include archived postings")
	enqueueCmd.Flags().Duration("synced-before", 0, "with --all, only postings not refreshed for this long")
}
