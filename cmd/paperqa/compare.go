package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/paperqa/internal/app"
)

var compareCmd = &cobra.Command{
	Use:   "compare <question>",
	Short: "Answer a question with and without reranking and report the difference",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cmp, err := a.Pipeline.QueryWithComparison(ctx, question)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cmp)
		})
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
