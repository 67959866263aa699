package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/app"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scrape every catalog job that has no artifact yet",
		Long: `Expands the catalog into jobs, skips those with an artifact in the
output root and runs the rest, one browsing session per store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, err := a.Crawl(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
