package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/spigell/hh-analyzer/internal/chain"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect and run analysis chains",
}

var chainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available chains",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		return printJSON(a.catalog.List())
	},
}

var chainRunCmd = &cobra.Command{
	Use:   "run <posting-id>",
	Short: "Run a chain for one stored posting and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		if err := a.syncModels(ctx); err != nil {
			return err
		}

		id, _ := cmd.Flags().GetString("chain")
		cfg, err := a.catalog.Get(id)
		if err != nil {
			return err
		}
		if force, _ := cmd.Flags().GetBool("force"); force {
			cfg = cfg.WithForce(true)
		}

		out := a.chains.Run(ctx, args[0], cfg)
		if err := printJSON(out); err != nil {
			return err
		}
		if !out.Success {
			return errors.New(out.ErrorMessage)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chainCmd)
	chainCmd.AddCommand(chainListCmd, chainRunCmd)

	chainRunCmd.Flags().StringP("chain", "c", string(chain.FullAnalysis), "chain id")
	chainRunCmd.Flags().BoolP("force", "f", false, "ignore cached step results")
}
