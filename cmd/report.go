package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/app"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Aggregate artifacts into the report and upload it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Report(ctx)
				if perr := printJSON(cmd, res); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Run the crawl, then build and upload the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, res, err := a.Publish(ctx)
				out := struct {
					Run    any `json:"run"`
					Report any `json:"report"`
				}{Run: summary, Report: res}
				if perr := printJSON(cmd, out); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}
