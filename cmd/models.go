package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the LLM model pool",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored models",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		list, err := a.models.List(context.Background())
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

var modelsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert the models from the config",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		created, updated, err := a.llm.Registry().Sync(context.Background(), a.config.Models)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"created": created, "updated": updated})
	},
}

var modelsResetCmd = &cobra.Command{
	Use:   "reset [model-id]",
	Short: "Clear the failure state of one model or of all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		if len(args) == 0 {
			n, err := a.llm.Registry().ResetAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]int64{"reset": n})
		}

		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("model id must be a number: %w", err)
		}
		if err := a.llm.Registry().Reset(ctx, uint(id)); err != nil {
			return err
		}
		return printJSON(map[string]int{"reset": 1})
	},
}

var modelsWarmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Send a short probe to every enabled model",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		if err := a.syncModels(ctx); err != nil {
			return err
		}
		results, err := a.llm.Warmup(ctx)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var modelsDiagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Show model health without calling any provider",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.llm.Registry().Diagnose(context.Background(), time.Now())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd, modelsSyncCmd, modelsResetCmd, modelsWarmupCmd, modelsDiagnoseCmd)
}
