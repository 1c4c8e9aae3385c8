package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/hh-analyzer/internal/worker"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Search vacancies, store the ones passing the filters and queue them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		cfg := a.config
		if cfg.Search == nil {
			return errors.New("search section is required in the config")
		}
		kinds, err := parseKinds(cfg.Sync.Kinds)
		if err != nil {
			return err
		}

		a.logger.Info("starting the search")
		summary, err := a.syncer().Sync(context.Background(), worker.SyncOptions{
			Search:   cfg.Search,
			MaxPages: cfg.Sync.MaxPages,
			Kinds:    kinds,
			Priority: cfg.Sync.Priority,
			Filters:  &cfg.Filters,
		})
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Int("max-pages", 20, "how many search pages to fetch")
	syncCmd.Flags().StringSlice("kinds", nil, "queues to add stored vacancies to")
	syncCmd.Flags().Bool("details", true, "fetch every found vacancy by id before storing it")
	syncCmd.Flags().Bool("skip-known", false, "do not store vacancies already in the database")
	syncCmd.Flags().StringP("exclude-file", "e", "", "special file with vacancies to exclude. Default is unset.")

	viper.BindPFlag("sync.max-pages", syncCmd.Flags().Lookup("max-pages"))
	viper.BindPFlag("sync.kinds", syncCmd.Flags().Lookup("kinds"))
	viper.BindPFlag("sync.details", syncCmd.Flags().Lookup("details"))
	viper.BindPFlag("filters.skip-known", syncCmd.Flags().Lookup("skip-known"))
	viper.BindPFlag("filters.exclude-file", syncCmd.Flags().Lookup("exclude-file"))
}
