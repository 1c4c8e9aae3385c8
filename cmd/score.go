package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/repository"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Read posting scores",
}

var scoreShowCmd = &cobra.Command{
	Use:   "show <posting-id>",
	Short: "Print the score and the latest chain runs of a posting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		score, err := a.scores.GetByPosting(ctx, args[0])
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("posting %s has no score", args[0])
		}
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("audits")
		var audits []models.ChainAudit
		if limit > 0 {
			if audits, err = a.audits.ListByPosting(ctx, args[0], limit); err != nil {
				return err
			}
		}

		return printJSON(struct {
			Score  *models.PostingScore `json:"score"`
			Audits []models.ChainAudit  `json:"audits,omitempty"`
		}{score, audits})
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.AddCommand(scoreShowCmd)

	scoreShowCmd.Flags().Int("audits", 5, "how many recent chain runs to include")
}
