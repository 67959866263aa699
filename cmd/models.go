package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/cost"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/models"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List provider models and whether the pricing table covers them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			prices, err := cost.NewTable(e.cfg.Pricing, e.logger)
			if err != nil {
				return fmt.Errorf("pricing table: %w", err)
			}
			lister, err := models.New(e.cfg.Models)
			if err != nil {
				return err
			}
			list, err := lister.List(cmd.Context(), prices.Models())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tNAME\tCREATED\tPRICED")
			for _, m := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", m.ID, m.DisplayName, m.CreatedAt.Format("2006-01-02"), m.Priced)
			}
			return w.Flush()
		},
	}
}
