package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/spigell/hh-analyzer/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the work queues",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats [kind...]",
	Short: "Count queue items per status",
	RunE: func(_ *cobra.Command, args []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		raw := args
		if len(raw) == 0 {
			raw = a.config.Worker.Kinds
		}
		kinds, err := parseKinds(raw)
		if err != nil {
			return err
		}

		stats := make([]queue.Stats, 0, len(kinds))
		for _, kind := range kinds {
			s, err := a.queue.Stats(context.Background(), kind)
			if err != nil {
				return err
			}
			stats = append(stats, s)
		}
		return printJSON(stats)
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge <kind>",
	Short: "Delete queue items, the finished ones unless --status is given",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := queue.ParseKind(args[0])
		if err != nil {
			return err
		}

		rawStatuses, _ := cmd.Flags().GetStringSlice("status")
		statuses := make([]queue.Status, 0, len(rawStatuses))
		for _, s := range rawStatuses {
			st, err := queue.ParseStatus(s)
			if err != nil {
				return err
			}
			statuses = append(statuses, st)
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			label := fmt.Sprintf("Delete items of %s", kind)
			if len(statuses) > 0 {
				label = fmt.Sprintf("%s in %v", label, statuses)
			}
			prompt := promptui.Prompt{Label: label, IsConfirm: true}
			if _, err := prompt.Run(); err != nil {
				fmt.Println("aborted")
				return nil
			}
		}

		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.queue.Purge(context.Background(), kind, statuses...)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"kind": kind, "deleted": n})
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <kind>",
	Short: "Return items stuck in PROCESSING to NEW",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := queue.ParseKind(args[0])
		if err != nil {
			return err
		}
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.queue.ResetStale(context.Background(), kind, olderThan)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"kind": kind, "requeued": n})
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatsCmd, queuePurgeCmd, queueRequeueCmd)

	queuePurgeCmd.Flags().StringSlice("status", nil, "statuses to delete (default COMPLETED and FAILED)")
	queuePurgeCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	queueRequeueCmd.Flags().Duration("older-than", 30*time.Minute, "only items claimed longer ago than this")
}
