package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/paperqa/internal/app"
)

var similarCmd = &cobra.Command{
	Use:   "similar <title>",
	Short: "List papers similar to the given title",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		title := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			papers, err := a.Retriever.SimilarPapers(ctx, title, k)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), papers)
		})
	},
}

var yearsCmd = &cobra.Command{
	Use:   "years <query>",
	Short: "Search papers published within a year range",
	Long: `years searches a widened candidate window and keeps papers whose year falls
within [--from, --to]. Matching papers ranked outside that window are missed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetInt("from")
		to, _ := cmd.Flags().GetInt("to")
		k, _ := cmd.Flags().GetInt("k")
		query := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			papers, err := a.Retriever.PapersByYearRange(ctx, query, from, to, k)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), papers)
		})
	},
}

func init() {
	similarCmd.Flags().Int("k", 5, "number of papers to return")

	yearsCmd.Flags().Int("from", 0, "earliest publication year")
	yearsCmd.Flags().Int("to", 9999, "latest publication year")
	yearsCmd.Flags().Int("k", 5, "number of papers to return")

	rootCmd.AddCommand(similarCmd, yearsCmd)
}
